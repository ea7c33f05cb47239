package contentengine

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/appforge/content-engine/pkg/contentengine/audit"
	"github.com/appforge/content-engine/pkg/contentengine/query"
)

func (s *service) ExportToCSV(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if err := checkAccess(req.Caller, OpExport); err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, Internal("export", fmt.Errorf("no blob store configured"))
	}
	def := s.resourceDef(req.Caller, req.Resource)
	if def == nil {
		return nil, NotFoundf("unknown resource %q", req.Resource)
	}

	// Columns come from the schema, not from the data, so exports stay
	// stable even when records are sparse.
	headers := []string{FieldID}
	for _, a := range def.Attributes {
		if !a.Hidden {
			headers = append(headers, a.Name)
		}
	}

	items, err := s.collectForExport(ctx, req.Resource, req.Filters)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return nil, Internal("export", err)
	}
	for _, item := range items {
		row := make([]string, len(headers))
		for i, h := range headers {
			row[i] = cellString(item[h])
		}
		if err := w.Write(row); err != nil {
			return nil, Internal("export", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, Internal("export", err)
	}

	key := fmt.Sprintf("exports/%s/%s-%d.csv", req.Caller.ProjectID, req.Resource, s.now().UTC().Unix())
	if err := s.blobs.Upload(ctx, key, bytes.NewReader(buf.Bytes()), "text/csv"); err != nil {
		return nil, Internal("export", err)
	}
	url, expiresAt, err := s.blobs.GetDownloadURL(ctx, key, req.Resource+".csv")
	if err != nil {
		return nil, Internal("export", err)
	}

	s.record(ctx, audit.Input{
		ProjectID: req.Caller.ProjectID,
		UserID:    req.Caller.UserID,
		Action:    "export",
		Resource:  req.Resource,
		BulkCount: len(items),
	})
	return &ExportResult{
		Key:         key,
		DownloadURL: url,
		ExpiresAt:   expiresAt,
		Rows:        len(items),
	}, nil
}

// collectForExport pages through the store until the export cap.
func (s *service) collectForExport(ctx context.Context, resource string, filters []query.Filter) ([]Item, error) {
	var items []Item
	var startKey map[string]interface{}
	for len(items) < s.exportLimit {
		q, err := query.NewBuilder().
			WithResourcePrefix(ResourcePrefix(resource)).
			WithFilters(filters...).
			WithLimit(s.exportLimit - len(items)).
			WithStartKey(startKey).
			Build()
		if err != nil {
			return nil, BadRequestf("%v", err)
		}
		page, err := s.store.Scan(ctx, q)
		if err != nil {
			return nil, Internal("export", err)
		}
		for _, it := range page.Items {
			items = append(items, stripKeys(it))
		}
		if len(page.LastKey) == 0 {
			break
		}
		startKey = page.LastKey
	}
	return items, nil
}

func cellString(v interface{}) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case int:
		return strconv.Itoa(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	case map[string]interface{}, []interface{}, []string:
		raw, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprint(tv)
		}
		return string(raw)
	default:
		return fmt.Sprint(tv)
	}
}

func (s *service) ImportFromCSV(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if err := checkAccess(req.Caller, OpImport); err != nil {
		return nil, err
	}
	switch req.Mode {
	case ImportCreate, ImportUpdate, ImportUpsert:
	default:
		return nil, BadRequestf("unknown import mode %q", req.Mode)
	}

	headers, rows, err := parseCSV(req.CSV)
	if err != nil {
		return nil, BadRequestf("malformed CSV: %v", err)
	}
	if req.Mode == ImportUpdate && !containsString(headers, FieldID) {
		return nil, BadRequestf("import mode %q requires an %q column", ImportUpdate, FieldID)
	}

	// Dry run reports the row count as if every row succeeded, before
	// any write happens.
	if req.DryRun {
		return &ImportResult{Succeeded: len(rows), DryRun: true}, nil
	}

	result := &ImportResult{}
	fail := func(id string, err error) {
		result.Failed++
		if !req.SkipErrors {
			result.Errors = append(result.Errors, BulkError{ID: id, Message: err.Error()})
		}
	}

	switch req.Mode {
	case ImportCreate:
		bulk, _ := s.bulkCreateItems(ctx, req.Caller, req.Resource, rows)
		result.Succeeded = bulk.Succeeded
		result.Failed = bulk.Failed
		if !req.SkipErrors {
			result.Errors = bulk.Errors
		}

	case ImportUpdate:
		for i, row := range rows {
			id, _ := row[FieldID].(string)
			if id == "" {
				fail(fmt.Sprintf("row %d", i+1), fmt.Errorf("missing id"))
				continue
			}
			data := cloneWithout(row, FieldID)
			if _, err := s.updateOne(ctx, req.Caller, req.Resource, id, data); err != nil {
				fail(id, err)
				continue
			}
			result.Succeeded++
		}

	case ImportUpsert:
		for i, row := range rows {
			id, _ := row[FieldID].(string)
			data := cloneWithout(row, FieldID)
			if id != "" {
				_, err := s.updateOne(ctx, req.Caller, req.Resource, id, data)
				if err == nil {
					result.Succeeded++
					continue
				}
				if CodeOf(err) != CodeNotFound {
					fail(id, err)
					continue
				}
				// Absent item: fall through to create with the same id.
			}
			if _, err := s.createOne(ctx, req.Caller, req.Resource, id, data); err != nil {
				label := id
				if label == "" {
					label = fmt.Sprintf("row %d", i+1)
				}
				fail(label, err)
				continue
			}
			result.Succeeded++
		}
	}

	if result.Succeeded > 0 {
		s.record(ctx, audit.Input{
			ProjectID: req.Caller.ProjectID,
			UserID:    req.Caller.UserID,
			Action:    "import",
			Resource:  req.Resource,
			BulkCount: result.Succeeded,
		})
	}
	return result, nil
}

// parseCSV reads the header line and re-types every cell by content
// sniffing: JSON object/array first, then numeric, else string. Empty
// cells are omitted from the row map.
func parseCSV(text string) ([]string, []map[string]interface{}, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("missing header line")
	}

	headers := records[0]
	rows := make([]map[string]interface{}, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]interface{}, len(headers))
		for i, h := range headers {
			if i >= len(record) || record[i] == "" {
				continue
			}
			if h == FieldID {
				// Ids stay strings even when they look numeric.
				row[h] = record[i]
				continue
			}
			row[h] = retypeCell(record[i])
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

func retypeCell(cell string) interface{} {
	trimmed := strings.TrimSpace(cell)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return n
	}
	return cell
}

func cloneWithout(row map[string]interface{}, field string) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		if k == field {
			continue
		}
		out[k] = v
	}
	return out
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
