package contentengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/appforge/content-engine/pkg/contentengine/audit"
	"github.com/appforge/content-engine/pkg/contentengine/query"
)

// Defaults for list pagination and export size.
const (
	DefaultListLimit   = 50
	DefaultExportLimit = 10000
)

// service implements the Service interface.
type service struct {
	store       Store
	resolver    SchemaResolver
	validator   Validator
	auditLog    *audit.Logger
	blobs       BlobStore
	now         Clock
	batchSize   int
	exportLimit int
}

// Option represents a functional option for configuring the service.
type Option func(*service)

// WithStore sets the key-value store. Required.
func WithStore(store Store) Option {
	return func(s *service) { s.store = store }
}

// WithResolver sets the schema resolver.
func WithResolver(r SchemaResolver) Option {
	return func(s *service) { s.resolver = r }
}

// WithValidator sets the validation engine.
func WithValidator(v Validator) Option {
	return func(s *service) { s.validator = v }
}

// WithAuditLogger sets the audit logger.
func WithAuditLogger(l *audit.Logger) Option {
	return func(s *service) { s.auditLog = l }
}

// WithBlobStore sets the export artifact store.
func WithBlobStore(b BlobStore) Option {
	return func(s *service) { s.blobs = b }
}

// WithClock injects the time source.
func WithClock(now Clock) Option {
	return func(s *service) { s.now = now }
}

// WithBatchSize overrides the store batch-write chunk size.
func WithBatchSize(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithExportLimit caps how many items a CSV export reads.
func WithExportLimit(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.exportLimit = n
		}
	}
}

// New creates a new service instance with the given options.
func New(options ...Option) (Service, error) {
	s := &service{
		now:         time.Now,
		batchSize:   BatchWriteLimit,
		exportLimit: DefaultExportLimit,
	}
	for _, option := range options {
		option(s)
	}
	if s.store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return s, nil
}

// checkAccess gates every public method on the caller's tier.
func checkAccess(c Caller, op Operation) error {
	if HasAccess(c.Tier, op) {
		return nil
	}
	min, ok := MinTierFor(op)
	if !ok {
		return Forbiddenf("unknown operation %q", op)
	}
	return Forbiddenf("operation %q requires the %s tier or higher", op, min)
}

// resourceDef resolves the caller's resource definition; nil when the
// template or resource is unknown (resolution fails soft).
func (s *service) resourceDef(c Caller, resource string) *ResourceDefinition {
	if s.resolver == nil {
		return nil
	}
	cfg := s.resolver.ResolveTemplate(c.TemplateID)
	if cfg == nil {
		return nil
	}
	def, ok := cfg.Resource(resource)
	if !ok {
		return nil
	}
	return def
}

func (s *service) record(ctx context.Context, in audit.Input) {
	if s.auditLog == nil {
		return
	}
	// Audit failures never fail the confirmed mutation.
	_, _ = s.auditLog.Log(ctx, in)
}

func (s *service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// stripKeys removes the storage key attributes from an item before it
// leaves the service.
func stripKeys(it Item) Item {
	out := it.Clone()
	delete(out, FieldPK)
	delete(out, FieldSK)
	return out
}

// Single-item operations

func (s *service) GetItem(ctx context.Context, req GetItemRequest) (Item, error) {
	if err := checkAccess(req.Caller, OpView); err != nil {
		return nil, err
	}
	key := NewCompositeKey(req.Resource, req.ID)
	item, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, NotFoundf("%s %q not found", key.ResourceSingular, req.ID)
		}
		return nil, Internal("get", err)
	}
	if item.Deleted() {
		return nil, NotFoundf("%s %q not found", key.ResourceSingular, req.ID)
	}
	return stripKeys(item), nil
}

func (s *service) CreateItem(ctx context.Context, req CreateItemRequest) (Item, error) {
	if err := checkAccess(req.Caller, OpCreate); err != nil {
		return nil, err
	}
	item, err := s.createOne(ctx, req.Caller, req.Resource, req.ID, req.Data)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// createOne is the single-item insert shared by CreateItem, bulk
// create and CSV import. It validates, writes with an insert-if-absent
// condition, and records one audit entry after the write is confirmed.
func (s *service) createOne(ctx context.Context, c Caller, resource, id string, data map[string]interface{}) (Item, error) {
	data, err := s.prepare(c, resource, data, false)
	if err != nil {
		return nil, err
	}

	if id == "" {
		id = uuid.New().String()
	}
	key := NewCompositeKey(resource, id)
	now := s.timestamp()

	item := make(Item, len(data)+5)
	for k, v := range data {
		item[k] = v
	}
	for k, v := range key.Map() {
		item[k] = v
	}
	item[FieldID] = id
	item[FieldCreatedAt] = now
	item[FieldUpdatedAt] = now

	if err := s.store.Put(ctx, item, true); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return nil, Conflictf("%s %q already exists", key.ResourceSingular, id)
		}
		return nil, Internal("create", err)
	}

	s.record(ctx, audit.Input{
		ProjectID:  c.ProjectID,
		UserID:     c.UserID,
		Action:     "create",
		Resource:   resource,
		ResourceID: id,
		NewData:    data,
	})
	return stripKeys(item), nil
}

func (s *service) UpdateItem(ctx context.Context, req UpdateItemRequest) (Item, error) {
	if err := checkAccess(req.Caller, OpUpdate); err != nil {
		return nil, err
	}
	return s.updateOne(ctx, req.Caller, req.Resource, req.ID, req.Data)
}

// updateOne is the single-item partial update shared by UpdateItem,
// bulk update and CSV import.
func (s *service) updateOne(ctx context.Context, c Caller, resource, id string, data map[string]interface{}) (Item, error) {
	attrs, err := s.prepare(c, resource, data, true)
	if err != nil {
		return nil, err
	}

	key := NewCompositeKey(resource, id)

	// Best effort: the previous state only feeds the audit diff, so a
	// failed fetch must not block the update.
	var previous map[string]interface{}
	if prev, err := s.store.Get(ctx, key); err == nil {
		previous = stripKeys(prev)
	}

	attrs[FieldUpdatedAt] = s.timestamp()
	updated, err := s.store.Update(ctx, key, attrs, true)
	if err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return nil, NotFoundf("%s %q not found", key.ResourceSingular, id)
		}
		return nil, Internal("update", err)
	}

	s.record(ctx, audit.Input{
		ProjectID:    c.ProjectID,
		UserID:       c.UserID,
		Action:       "update",
		Resource:     resource,
		ResourceID:   id,
		PreviousData: previous,
		NewData:      attrs,
	})
	return stripKeys(updated), nil
}

func (s *service) DeleteItem(ctx context.Context, req DeleteItemRequest) error {
	if err := checkAccess(req.Caller, OpDelete); err != nil {
		return err
	}
	key := NewCompositeKey(req.Resource, req.ID)

	var previous map[string]interface{}
	if prev, err := s.store.Get(ctx, key); err == nil {
		previous = stripKeys(prev)
	}

	if req.Hard {
		if err := s.store.Delete(ctx, key, true); err != nil {
			if errors.Is(err, ErrConditionFailed) {
				return NotFoundf("%s %q not found", key.ResourceSingular, req.ID)
			}
			return Internal("delete", err)
		}
	} else {
		attrs := map[string]interface{}{
			FieldDeletedAt: s.timestamp(),
			FieldUpdatedAt: s.timestamp(),
		}
		if _, err := s.store.Update(ctx, key, attrs, true); err != nil {
			if errors.Is(err, ErrConditionFailed) {
				return NotFoundf("%s %q not found", key.ResourceSingular, req.ID)
			}
			return Internal("delete", err)
		}
	}

	s.record(ctx, audit.Input{
		ProjectID:    req.Caller.ProjectID,
		UserID:       req.Caller.UserID,
		Action:       "delete",
		Resource:     req.Resource,
		ResourceID:   req.ID,
		PreviousData: previous,
	})
	return nil
}

// prepare validates and coerces incoming data against the resource
// schema. Resources without a resolved definition pass through as-is.
func (s *service) prepare(c Caller, resource string, data map[string]interface{}, partial bool) (map[string]interface{}, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	def := s.resourceDef(c, resource)
	if def == nil || s.validator == nil {
		out := make(map[string]interface{}, len(data))
		for k, v := range data {
			out[k] = v
		}
		return out, nil
	}
	transformed, fieldErrs := s.validator.ValidateAndTransform(def, data, partial)
	if len(fieldErrs) > 0 {
		return nil, ValidationFailed(fieldErrs)
	}
	return transformed, nil
}

// Listing

func (s *service) ListItems(ctx context.Context, req ListItemsRequest) (*ListItemsResult, error) {
	if err := checkAccess(req.Caller, OpView); err != nil {
		return nil, err
	}

	def := s.resourceDef(req.Caller, req.Resource)
	sortField, sortDesc := req.SortField, req.SortDesc
	if sortField == "" && def != nil {
		sortField, sortDesc = def.DefaultSort, def.DefaultDesc
	}

	b := query.NewBuilder().
		WithResourcePrefix(ResourcePrefix(req.Resource)).
		WithFilters(req.Filters...).
		WithSort(sortField, sortDesc).
		WithLimit(normalizeLimit(req.Limit)).
		WithStartKey(DecodeCursor(req.Cursor))
	if req.IncludeDeleted {
		b.IncludeDeleted()
	}
	return s.runScan(ctx, b)
}

func (s *service) SearchItems(ctx context.Context, req SearchRequest) (*ListItemsResult, error) {
	if err := checkAccess(req.Caller, OpView); err != nil {
		return nil, err
	}
	if req.Resource == "" {
		return nil, BadRequestf("search requires a target resource")
	}

	fields := req.Fields
	if len(fields) == 0 {
		if def := s.resourceDef(req.Caller, req.Resource); def != nil {
			fields = def.SearchableFields()
		}
	}
	if len(fields) == 0 {
		fields = []string{"name", "title", "description"}
	}

	b := query.NewBuilder().
		WithResourcePrefix(ResourcePrefix(req.Resource)).
		WithSearch(req.Query, fields...).
		WithLimit(normalizeLimit(req.Limit)).
		WithStartKey(DecodeCursor(req.Cursor))
	return s.runScan(ctx, b)
}

func (s *service) runScan(ctx context.Context, b *query.Builder) (*ListItemsResult, error) {
	q, err := b.Build()
	if err != nil {
		return nil, BadRequestf("%v", err)
	}
	page, err := s.store.Scan(ctx, q)
	if err != nil {
		return nil, Internal("list", err)
	}

	items := make([]Item, 0, len(page.Items))
	for _, it := range page.Items {
		items = append(items, stripKeys(it))
	}
	if q.InMemorySort && q.Sort != nil {
		raw := make([]map[string]interface{}, len(items))
		for i := range items {
			raw[i] = items[i]
		}
		query.ApplySort(raw, *q.Sort)
	}

	cursor := EncodeCursor(page.LastKey)
	return &ListItemsResult{
		Items:   items,
		Cursor:  cursor,
		HasMore: cursor != "",
	}, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// Bulk operations

func (s *service) BulkCreate(ctx context.Context, req BulkCreateRequest) (*BulkResult, error) {
	if err := checkAccess(req.Caller, OpBulk); err != nil {
		return nil, err
	}
	result, ids := s.bulkCreateItems(ctx, req.Caller, req.Resource, req.Items)
	if result.Succeeded > 0 {
		s.record(ctx, audit.Input{
			ProjectID: req.Caller.ProjectID,
			UserID:    req.Caller.UserID,
			Action:    "bulk_create",
			Resource:  req.Resource,
			BulkCount: result.Succeeded,
			BulkIDs:   ids,
		})
	}
	return result, nil
}

// bulkCreateItems validates and inserts items in store-native batches.
// Each chunk fails or succeeds independently; one chunk's failure never
// rolls back the others.
func (s *service) bulkCreateItems(ctx context.Context, c Caller, resource string, rows []map[string]interface{}) (*BulkResult, []string) {
	result := &BulkResult{}
	now := s.timestamp()

	type pending struct {
		id   string
		item Item
	}
	var prepared []pending
	for i, row := range rows {
		data, err := s.prepare(c, resource, row, false)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkError{
				ID:      fmt.Sprintf("row %d", i+1),
				Message: err.Error(),
			})
			continue
		}
		id, _ := row[FieldID].(string)
		if id == "" {
			id = uuid.New().String()
		}
		key := NewCompositeKey(resource, id)
		item := make(Item, len(data)+5)
		for k, v := range data {
			item[k] = v
		}
		for k, v := range key.Map() {
			item[k] = v
		}
		item[FieldID] = id
		item[FieldCreatedAt] = now
		item[FieldUpdatedAt] = now
		prepared = append(prepared, pending{id: id, item: item})
	}

	var createdIDs []string
	for start := 0; start < len(prepared); start += s.batchSize {
		end := start + s.batchSize
		if end > len(prepared) {
			end = len(prepared)
		}
		chunk := prepared[start:end]
		puts := make([]Item, len(chunk))
		for i, p := range chunk {
			puts[i] = p.item
		}
		if err := s.store.BatchWrite(ctx, puts, nil); err != nil {
			result.Failed += len(chunk)
			for _, p := range chunk {
				result.Errors = append(result.Errors, BulkError{ID: p.id, Message: err.Error()})
			}
			continue
		}
		result.Succeeded += len(chunk)
		for _, p := range chunk {
			createdIDs = append(createdIDs, p.id)
		}
	}
	return result, createdIDs
}

func (s *service) BulkUpdate(ctx context.Context, req BulkUpdateRequest) (*BulkResult, error) {
	if err := checkAccess(req.Caller, OpBulk); err != nil {
		return nil, err
	}

	// The store has no batch update primitive; each item is updated
	// individually and failures are collected per item. The per-item
	// path also writes the leaf audit entries.
	result := &BulkResult{}
	var ids []string
	for _, item := range req.Items {
		if _, err := s.updateOne(ctx, req.Caller, req.Resource, item.ID, item.Data); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkError{ID: item.ID, Message: err.Error()})
			continue
		}
		result.Succeeded++
		ids = append(ids, item.ID)
	}

	if result.Succeeded > 0 {
		s.record(ctx, audit.Input{
			ProjectID: req.Caller.ProjectID,
			UserID:    req.Caller.UserID,
			Action:    "bulk_update",
			Resource:  req.Resource,
			BulkCount: result.Succeeded,
			BulkIDs:   ids,
		})
	}
	return result, nil
}

func (s *service) BulkDelete(ctx context.Context, req BulkDeleteRequest) (*BulkResult, error) {
	if err := checkAccess(req.Caller, OpBulk); err != nil {
		return nil, err
	}

	result := &BulkResult{}
	var deleted []string
	for start := 0; start < len(req.IDs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(req.IDs) {
			end = len(req.IDs)
		}
		chunk := req.IDs[start:end]
		keys := make([]CompositeKey, len(chunk))
		for i, id := range chunk {
			keys[i] = NewCompositeKey(req.Resource, id)
		}
		if err := s.store.BatchWrite(ctx, nil, keys); err != nil {
			result.Failed += len(chunk)
			for _, id := range chunk {
				result.Errors = append(result.Errors, BulkError{ID: id, Message: err.Error()})
			}
			continue
		}
		result.Succeeded += len(chunk)
		deleted = append(deleted, chunk...)
	}

	if result.Succeeded > 0 {
		s.record(ctx, audit.Input{
			ProjectID: req.Caller.ProjectID,
			UserID:    req.Caller.UserID,
			Action:    "bulk_delete",
			Resource:  req.Resource,
			BulkCount: result.Succeeded,
			BulkIDs:   deleted,
		})
	}
	return result, nil
}

// Audit access

func (s *service) AuditEntries(ctx context.Context, req AuditQueryRequest) ([]*audit.Entry, int, error) {
	if err := checkAccess(req.Caller, OpAudit); err != nil {
		return nil, 0, err
	}
	if s.auditLog == nil {
		return nil, 0, nil
	}
	filter := req.Filter
	if filter.ProjectID == "" {
		filter.ProjectID = req.Caller.ProjectID
	}
	return s.auditLog.Search(ctx, filter, req.Limit, req.Offset)
}

func (s *service) ItemHistory(ctx context.Context, req ItemHistoryRequest) ([]audit.Change, error) {
	if err := checkAccess(req.Caller, OpAudit); err != nil {
		return nil, err
	}
	if s.auditLog == nil {
		return nil, nil
	}
	return s.auditLog.Changes(ctx, req.Resource, req.ID, req.Limit)
}

// Resources

func (s *service) Resources(ctx context.Context, caller Caller) (*ContentManagementConfig, error) {
	if err := checkAccess(caller, OpView); err != nil {
		return nil, err
	}
	if s.resolver == nil {
		return &ContentManagementConfig{TemplateID: caller.TemplateID}, nil
	}
	return s.resolver.ResolveTemplate(caller.TemplateID), nil
}
