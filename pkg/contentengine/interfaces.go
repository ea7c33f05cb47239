package contentengine

import (
	"context"
	"io"
	"time"

	"github.com/appforge/content-engine/pkg/contentengine/query"
)

// Page is one page of scan/query results together with the store's
// native continuation key.
type Page struct {
	Items   []Item
	LastKey map[string]interface{}
}

// Store is the partitioned key-value store collaborating with the
// service. Any document/key-value backend providing partition+sort
// keys, filter-after-fetch scans, secondary indexes, and conditional
// writes satisfies the contract.
//
// Condition failures surface as ErrConditionFailed and absent items as
// ErrItemNotFound; the service maps those onto domain error codes.
type Store interface {
	Get(ctx context.Context, key CompositeKey) (Item, error)

	// Put writes a full item. With ifNotExists it is an optimistic
	// insert that fails ErrConditionFailed on key collision.
	Put(ctx context.Context, item Item, ifNotExists bool) error

	// Update applies attrs to an existing item and returns the new
	// item state. With ifExists it fails ErrConditionFailed when the
	// item is absent.
	Update(ctx context.Context, key CompositeKey, attrs map[string]interface{}, ifExists bool) (Item, error)

	Delete(ctx context.Context, key CompositeKey, ifExists bool) error

	// Scan executes a KindScan query: full scan with the query's
	// server-evaluated predicate. Results are unordered.
	Scan(ctx context.Context, q *query.Query) (*Page, error)

	// Query executes a KindIndex query with native ordering.
	Query(ctx context.Context, q *query.Query) (*Page, error)

	// BatchWrite executes puts and deletes in a single store batch.
	// Callers chunk to BatchWriteLimit items.
	BatchWrite(ctx context.Context, puts []Item, deletes []CompositeKey) error
}

// BatchWriteLimit is the store-imposed ceiling on items per batch
// write.
const BatchWriteLimit = 25

// SchemaResolver resolves a template into its content-management
// configuration. Resolution fails soft: unknown templates yield an
// empty-resource config, never an error.
type SchemaResolver interface {
	ResolveTemplate(templateID string) *ContentManagementConfig
}

// Validator validates and coerces untyped input against a resource
// definition. Partial mode treats every field as optional and is used
// for updates.
type Validator interface {
	Validate(def *ResourceDefinition, data map[string]interface{}, partial bool) []FieldError
	ValidateAndTransform(def *ResourceDefinition, data map[string]interface{}, partial bool) (map[string]interface{}, []FieldError)
}

// BlobStore stores export artifacts and hands out expiring download
// URLs.
type BlobStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error
	GetDownloadURL(ctx context.Context, key, downloadFilename string) (string, time.Time, error)
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time
