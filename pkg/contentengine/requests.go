package contentengine

import (
	"time"

	"github.com/appforge/content-engine/pkg/contentengine/query"
)

// Request/Response DTOs

// Caller identifies who is performing an operation. Authentication and
// project→template resolution happen outside the engine; the caller
// arrives here already identified.
type Caller struct {
	UserID     string
	ProjectID  string
	TemplateID string
	Tier       Tier
}

// GetItemRequest fetches a single item.
type GetItemRequest struct {
	Caller   Caller
	Resource string
	ID       string
}

// CreateItemRequest creates an item. ID is optional; a UUID is
// generated when absent.
type CreateItemRequest struct {
	Caller   Caller
	Resource string
	ID       string
	Data     map[string]interface{}
}

// UpdateItemRequest partially updates an existing item.
type UpdateItemRequest struct {
	Caller   Caller
	Resource string
	ID       string
	Data     map[string]interface{}
}

// DeleteItemRequest deletes an item. Default is a soft delete that
// stamps deletedAt; Hard removes the record.
type DeleteItemRequest struct {
	Caller   Caller
	Resource string
	ID       string
	Hard     bool
}

// ListItemsRequest lists items of one resource.
type ListItemsRequest struct {
	Caller         Caller
	Resource       string
	Filters        []query.Filter
	SortField      string
	SortDesc       bool
	Limit          int
	Cursor         string
	IncludeDeleted bool
}

// ListItemsResult is one page of items plus the continuation cursor.
type ListItemsResult struct {
	Items   []Item `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

// SearchRequest is a free-text search over one resource. Fields is
// optional; when empty the resource's searchable string attributes are
// used.
type SearchRequest struct {
	Caller   Caller
	Resource string
	Query    string
	Fields   []string
	Limit    int
	Cursor   string
}

// BulkCreateRequest inserts many items with partial-failure semantics.
type BulkCreateRequest struct {
	Caller   Caller
	Resource string
	Items    []map[string]interface{}
}

// BulkUpdateItem is one item of a bulk update.
type BulkUpdateItem struct {
	ID   string                 `json:"id"`
	Data map[string]interface{} `json:"data"`
}

// BulkUpdateRequest updates many items individually.
type BulkUpdateRequest struct {
	Caller   Caller
	Resource string
	Items    []BulkUpdateItem
}

// BulkDeleteRequest removes many items in store-native batches.
type BulkDeleteRequest struct {
	Caller   Caller
	Resource string
	IDs      []string
}

// BulkError is one failed item or chunk of a bulk operation.
type BulkError struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// BulkResult aggregates a bulk operation. Partial failure never raises;
// each failed item contributes one entry to Errors.
type BulkResult struct {
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Errors    []BulkError `json:"errors,omitempty"`
}

// ExportRequest exports a resource's items as CSV.
type ExportRequest struct {
	Caller   Caller
	Resource string
	Filters  []query.Filter
}

// ExportResult describes the stored export artifact.
type ExportResult struct {
	Key         string    `json:"key"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	Rows        int       `json:"rows"`
}

// ImportMode selects how CSV rows are applied.
type ImportMode string

const (
	// ImportCreate bulk-inserts every row.
	ImportCreate ImportMode = "create"
	// ImportUpdate bulk-updates rows; the CSV must carry an id column.
	ImportUpdate ImportMode = "update"
	// ImportUpsert tries update per row, falling back to create when
	// the item does not exist.
	ImportUpsert ImportMode = "upsert"
)

// ImportRequest imports items from CSV text.
type ImportRequest struct {
	Caller     Caller
	Resource   string
	CSV        string
	Mode       ImportMode
	DryRun     bool
	SkipErrors bool
}

// ImportResult aggregates an import run.
type ImportResult struct {
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Errors    []BulkError `json:"errors,omitempty"`
	DryRun    bool        `json:"dry_run,omitempty"`
}
