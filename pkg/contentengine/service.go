package contentengine

import (
	"context"

	"github.com/appforge/content-engine/pkg/contentengine/audit"
)

// Service is the public content-management API. Every method enforces
// tier-based access before touching the store; mutating methods
// validate input and record an audit entry once the mutation is
// confirmed.
type Service interface {
	// Single-item CRUD
	GetItem(ctx context.Context, req GetItemRequest) (Item, error)
	CreateItem(ctx context.Context, req CreateItemRequest) (Item, error)
	UpdateItem(ctx context.Context, req UpdateItemRequest) (Item, error)
	DeleteItem(ctx context.Context, req DeleteItemRequest) error

	// Listing and search
	ListItems(ctx context.Context, req ListItemsRequest) (*ListItemsResult, error)
	SearchItems(ctx context.Context, req SearchRequest) (*ListItemsResult, error)

	// Bulk operations; partial failure never raises, the result
	// carries per-item error detail.
	BulkCreate(ctx context.Context, req BulkCreateRequest) (*BulkResult, error)
	BulkUpdate(ctx context.Context, req BulkUpdateRequest) (*BulkResult, error)
	BulkDelete(ctx context.Context, req BulkDeleteRequest) (*BulkResult, error)

	// CSV import/export
	ExportToCSV(ctx context.Context, req ExportRequest) (*ExportResult, error)
	ImportFromCSV(ctx context.Context, req ImportRequest) (*ImportResult, error)

	// Audit access (tier-gated)
	AuditEntries(ctx context.Context, req AuditQueryRequest) ([]*audit.Entry, int, error)
	ItemHistory(ctx context.Context, req ItemHistoryRequest) ([]audit.Change, error)

	// Resources returns the resolved resource definitions for the
	// caller's template.
	Resources(ctx context.Context, caller Caller) (*ContentManagementConfig, error)
}

// AuditQueryRequest queries the audit trail.
type AuditQueryRequest struct {
	Caller Caller
	Filter audit.Filter
	Limit  int
	Offset int
}

// ItemHistoryRequest fetches the before/after change history of one
// item.
type ItemHistoryRequest struct {
	Caller   Caller
	Resource string
	ID       string
	Limit    int
}
