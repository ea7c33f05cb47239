// Package api exposes the content service over HTTP with JWT-derived
// caller identity.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/appforge/content-engine/pkg/contentengine"
	"github.com/appforge/content-engine/pkg/contentengine/audit"
	"github.com/appforge/content-engine/pkg/contentengine/query"
)

// Handler handles HTTP requests for content items.
type Handler struct {
	svc    contentengine.Service
	logger *slog.Logger
}

// NewHandler creates a content handler.
func NewHandler(svc contentengine.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the content routes. Caller identity middleware must
// already have run.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/resources", h.Resources)
	r.Get("/audit", h.AuditEntries)

	r.Route("/{resource}", func(r chi.Router) {
		r.Get("/", h.ListItems)
		r.Post("/", h.CreateItem)
		r.Get("/search", h.SearchItems)

		r.Post("/bulk", h.BulkCreate)
		r.Patch("/bulk", h.BulkUpdate)
		r.Delete("/bulk", h.BulkDelete)

		r.Post("/export", h.Export)
		r.Post("/import", h.Import)

		r.Get("/{id}", h.GetItem)
		r.Patch("/{id}", h.UpdateItem)
		r.Delete("/{id}", h.DeleteItem)
		r.Get("/{id}/history", h.ItemHistory)
	})

	return r
}

func (h *Handler) Resources(w http.ResponseWriter, r *http.Request) {
	config, err := h.svc.Resources(r.Context(), CallerFromContext(r.Context()))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, config)
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetItem(r.Context(), contentengine.GetItemRequest{
		Caller:   CallerFromContext(r.Context()),
		Resource: chi.URLParam(r, "resource"),
		ID:       chi.URLParam(r, "id"),
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, item)
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID   string                 `json:"id,omitempty"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.renderError(w, r, contentengine.BadRequestf("invalid JSON body"))
		return
	}

	item, err := h.svc.CreateItem(r.Context(), contentengine.CreateItemRequest{
		Caller:   CallerFromContext(r.Context()),
		Resource: chi.URLParam(r, "resource"),
		ID:       body.ID,
		Data:     body.Data,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, item)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.renderError(w, r, contentengine.BadRequestf("invalid JSON body"))
		return
	}

	item, err := h.svc.UpdateItem(r.Context(), contentengine.UpdateItemRequest{
		Caller:   CallerFromContext(r.Context()),
		Resource: chi.URLParam(r, "resource"),
		ID:       chi.URLParam(r, "id"),
		Data:     body.Data,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, item)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteItem(r.Context(), contentengine.DeleteItemRequest{
		Caller:   CallerFromContext(r.Context()),
		Resource: chi.URLParam(r, "resource"),
		ID:       chi.URLParam(r, "id"),
		Hard:     r.URL.Query().Get("hard") == "true",
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters, err := query.ParseFilters(q["filter"]...)
	if err != nil {
		h.renderError(w, r, contentengine.BadRequestf("invalid filter: %v", err))
		return
	}

	result, err := h.svc.ListItems(r.Context(), contentengine.ListItemsRequest{
		Caller:         CallerFromContext(r.Context()),
		Resource:       chi.URLParam(r, "resource"),
		Filters:        filters,
		SortField:      q.Get("sort"),
		SortDesc:       q.Get("order") == "desc",
		Limit:          intParam(q.Get("limit")),
		Cursor:         q.Get("cursor"),
		IncludeDeleted: q.Get("include_deleted") == "true",
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (h *Handler) SearchItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.svc.SearchItems(r.Context(), contentengine.SearchRequest{
		Caller:   CallerFromContext(r.Context()),
		Resource: chi.URLParam(r, "resource"),
		Query:    q.Get("q"),
		Fields:   q["field"],
		Limit:    intParam(q.Get("limit")),
		Cursor:   q.Get("cursor"),
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (h *Handler) BulkCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Items []map[string]interface{} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.renderError(w, r, contentengine.BadRequestf("invalid JSON body"))
		return
	}

	result, err := h.svc.BulkCreate(r.Context(), contentengine.BulkCreateRequest{
		Caller:   CallerFromContext(r.Context()),
		Resource: chi.URLParam(r, "resource"),
		Items:    body.Items,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (h *Handler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Items []contentengine.BulkUpdateItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.renderError(w, r, contentengine.BadRequestf("invalid JSON body"))
		return
	}

	result, err := h.svc.BulkUpdate(r.Context(), contentengine.BulkUpdateRequest{
		Caller:   CallerFromContext(r.Context()),
		Resource: chi.URLParam(r, "resource"),
		Items:    body.Items,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.renderError(w, r, contentengine.BadRequestf("invalid JSON body"))
		return
	}

	result, err := h.svc.BulkDelete(r.Context(), contentengine.BulkDeleteRequest{
		Caller:   CallerFromContext(r.Context()),
		Resource: chi.URLParam(r, "resource"),
		IDs:      body.IDs,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filters []string `json:"filters,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.renderError(w, r, contentengine.BadRequestf("invalid JSON body"))
			return
		}
	}
	filters, err := query.ParseFilters(body.Filters...)
	if err != nil {
		h.renderError(w, r, contentengine.BadRequestf("invalid filter: %v", err))
		return
	}

	result, err := h.svc.ExportToCSV(r.Context(), contentengine.ExportRequest{
		Caller:   CallerFromContext(r.Context()),
		Resource: chi.URLParam(r, "resource"),
		Filters:  filters,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CSV        string `json:"csv"`
		Mode       string `json:"mode"`
		DryRun     bool   `json:"dry_run"`
		SkipErrors bool   `json:"skip_errors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.renderError(w, r, contentengine.BadRequestf("invalid JSON body"))
		return
	}

	result, err := h.svc.ImportFromCSV(r.Context(), contentengine.ImportRequest{
		Caller:     CallerFromContext(r.Context()),
		Resource:   chi.URLParam(r, "resource"),
		CSV:        body.CSV,
		Mode:       contentengine.ImportMode(body.Mode),
		DryRun:     body.DryRun,
		SkipErrors: body.SkipErrors,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (h *Handler) AuditEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		UserID:     q.Get("user_id"),
		Resource:   q.Get("resource"),
		ResourceID: q.Get("resource_id"),
	}
	if action := q.Get("action"); action != "" {
		filter.Actions = []string{action}
	}
	if since := timeParam(q.Get("since")); since != nil {
		filter.Since = since
	}
	if until := timeParam(q.Get("until")); until != nil {
		filter.Until = until
	}

	entries, total, err := h.svc.AuditEntries(r.Context(), contentengine.AuditQueryRequest{
		Caller: CallerFromContext(r.Context()),
		Filter: filter,
		Limit:  intParam(q.Get("limit")),
		Offset: intParam(q.Get("offset")),
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"entries": entries,
		"total":   total,
	})
}

func (h *Handler) ItemHistory(w http.ResponseWriter, r *http.Request) {
	changes, err := h.svc.ItemHistory(r.Context(), contentengine.ItemHistoryRequest{
		Caller:   CallerFromContext(r.Context()),
		Resource: chi.URLParam(r, "resource"),
		ID:       chi.URLParam(r, "id"),
		Limit:    intParam(r.URL.Query().Get("limit")),
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"changes": changes})
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Code    string                     `json:"code"`
	Message string                     `json:"message"`
	Fields  []contentengine.FieldError `json:"fields,omitempty"`
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	code := contentengine.CodeOf(err)
	status := statusFor(code)

	resp := errorResponse{Code: string(code), Message: err.Error()}
	var domainErr *contentengine.Error
	if errors.As(err, &domainErr) {
		resp.Message = domainErr.Message
		resp.Fields = domainErr.Fields
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		resp.Message = "internal error"
	}

	render.Status(r, status)
	render.JSON(w, r, map[string]errorResponse{"error": resp})
}

func statusFor(code contentengine.ErrorCode) int {
	switch code {
	case contentengine.CodeNotFound:
		return http.StatusNotFound
	case contentengine.CodeConflict:
		return http.StatusConflict
	case contentengine.CodeForbidden:
		return http.StatusForbidden
	case contentengine.CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func intParam(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func timeParam(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
