package contentengine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/content-engine/pkg/contentengine"
	"github.com/appforge/content-engine/pkg/contentengine/audit"
	blobmemory "github.com/appforge/content-engine/pkg/contentengine/blob/memory"
	"github.com/appforge/content-engine/pkg/contentengine/query"
	"github.com/appforge/content-engine/pkg/contentengine/schema"
	storememory "github.com/appforge/content-engine/pkg/contentengine/store/memory"
	"github.com/appforge/content-engine/pkg/contentengine/validation"
)

// tickingClock hands out strictly increasing timestamps so default
// ordering by createdAt is deterministic.
func tickingClock() func() time.Time {
	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func testCatalog() schema.Catalog {
	return schema.Catalog{Templates: map[string][]schema.Table{
		"storefront": {
			{
				Name: "products",
				Attributes: []contentengine.AttributeDefinition{
					{Name: "name", Type: contentengine.TypeString, Required: true},
					{Name: "price", Type: contentengine.TypeNumber},
					{Name: "status", Type: contentengine.TypeString,
						Default: "draft", Options: []string{"draft", "active"}},
					{Name: "costBasis", Type: contentengine.TypeNumber, Hidden: true},
				},
			},
			{
				Name: "categories",
				Attributes: []contentengine.AttributeDefinition{
					{Name: "title", Type: contentengine.TypeString, Required: true},
				},
			},
		},
	}}
}

type testEnv struct {
	svc        contentengine.Service
	store      *storememory.Store
	auditStore *audit.MemoryStore
	blobs      *blobmemory.Store
}

func newTestEnv(t *testing.T, extra ...contentengine.Option) *testEnv {
	t.Helper()

	env := &testEnv{
		store:      storememory.New(),
		auditStore: audit.NewMemoryStore(0),
		blobs:      blobmemory.New(),
	}
	options := []contentengine.Option{
		contentengine.WithStore(env.store),
		contentengine.WithResolver(schema.NewResolver(testCatalog())),
		contentengine.WithValidator(validation.NewEngine()),
		contentengine.WithAuditLogger(audit.New(env.auditStore)),
		contentengine.WithBlobStore(env.blobs),
		contentengine.WithClock(tickingClock()),
	}
	options = append(options, extra...)

	svc, err := contentengine.New(options...)
	require.NoError(t, err)
	env.svc = svc
	return env
}

func caller(tier contentengine.Tier) contentengine.Caller {
	return contentengine.Caller{
		UserID:     "u-1",
		ProjectID:  "proj-1",
		TemplateID: "storefront",
		Tier:       tier,
	}
}

func proCaller() contentengine.Caller        { return caller(contentengine.TierPro) }
func basicCaller() contentengine.Caller      { return caller(contentengine.TierBasic) }
func enterpriseCaller() contentengine.Caller { return caller(contentengine.TierEnterprise) }

func createProduct(t *testing.T, env *testEnv, id string, data map[string]interface{}) contentengine.Item {
	t.Helper()
	item, err := env.svc.CreateItem(context.Background(), contentengine.CreateItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       id,
		Data:     data,
	})
	require.NoError(t, err)
	return item
}

func TestServiceRequiresStore(t *testing.T) {
	_, err := contentengine.New()
	assert.Error(t, err)
}

func TestCreateItem(t *testing.T) {
	env := newTestEnv(t)

	item := createProduct(t, env, "", map[string]interface{}{
		"name":  "Widget",
		"price": "19.99",
	})

	assert.NotEmpty(t, item.ID())
	assert.Equal(t, "Widget", item["name"])
	assert.Equal(t, 19.99, item["price"], "string price coerced to a number")
	assert.Equal(t, "draft", item["status"], "schema default applied")
	assert.NotEmpty(t, item[contentengine.FieldCreatedAt])
	assert.Equal(t, item[contentengine.FieldCreatedAt], item[contentengine.FieldUpdatedAt])
	assert.NotContains(t, item, contentengine.FieldPK, "storage keys never leave the service")
	assert.NotContains(t, item, contentengine.FieldSK)
}

func TestCreateItemDuplicateID(t *testing.T) {
	env := newTestEnv(t)
	createProduct(t, env, "p-1", map[string]interface{}{"name": "Widget"})

	_, err := env.svc.CreateItem(context.Background(), contentengine.CreateItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       "p-1",
		Data:     map[string]interface{}{"name": "Other"},
	})
	require.Error(t, err)
	assert.Equal(t, contentengine.CodeConflict, contentengine.CodeOf(err))
}

func TestCreateItemValidationFailure(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateItem(context.Background(), contentengine.CreateItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		Data:     map[string]interface{}{"price": 10.0},
	})
	require.Error(t, err)
	assert.Equal(t, contentengine.CodeBadRequest, contentengine.CodeOf(err))

	var domainErr *contentengine.Error
	require.ErrorAs(t, err, &domainErr)
	require.Len(t, domainErr.Fields, 1)
	assert.Equal(t, "name", domainErr.Fields[0].Field)
	assert.Equal(t, "required", domainErr.Fields[0].Code)
}

func TestGetItem(t *testing.T) {
	env := newTestEnv(t)
	created := createProduct(t, env, "p-1", map[string]interface{}{"name": "Widget"})

	got, err := env.svc.GetItem(context.Background(), contentengine.GetItemRequest{
		Caller:   basicCaller(),
		Resource: "products",
		ID:       "p-1",
	})
	require.NoError(t, err)
	assert.Equal(t, created["name"], got["name"])

	_, err = env.svc.GetItem(context.Background(), contentengine.GetItemRequest{
		Caller:   basicCaller(),
		Resource: "products",
		ID:       "missing",
	})
	assert.Equal(t, contentengine.CodeNotFound, contentengine.CodeOf(err))
}

func TestUpdateItem(t *testing.T) {
	env := newTestEnv(t)
	createProduct(t, env, "p-1", map[string]interface{}{"name": "Widget", "price": 10.0})

	updated, err := env.svc.UpdateItem(context.Background(), contentengine.UpdateItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       "p-1",
		Data:     map[string]interface{}{"price": 12.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 12.5, updated["price"])
	assert.Equal(t, "Widget", updated["name"], "partial update keeps other fields")
	assert.NotEqual(t, updated[contentengine.FieldCreatedAt], updated[contentengine.FieldUpdatedAt])

	_, err = env.svc.UpdateItem(context.Background(), contentengine.UpdateItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       "missing",
		Data:     map[string]interface{}{"price": 1.0},
	})
	assert.Equal(t, contentengine.CodeNotFound, contentengine.CodeOf(err))
}

func TestSoftDeleteHidesItem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	createProduct(t, env, "p-1", map[string]interface{}{"name": "Widget"})

	require.NoError(t, env.svc.DeleteItem(ctx, contentengine.DeleteItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       "p-1",
	}))

	_, err := env.svc.GetItem(ctx, contentengine.GetItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       "p-1",
	})
	assert.Equal(t, contentengine.CodeNotFound, contentengine.CodeOf(err))

	list, err := env.svc.ListItems(ctx, contentengine.ListItemsRequest{
		Caller:   proCaller(),
		Resource: "products",
	})
	require.NoError(t, err)
	assert.Empty(t, list.Items)

	list, err = env.svc.ListItems(ctx, contentengine.ListItemsRequest{
		Caller:         proCaller(),
		Resource:       "products",
		IncludeDeleted: true,
	})
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)
}

func TestHardDeleteRemovesRecord(t *testing.T) {
	env := newTestEnv(t)
	createProduct(t, env, "p-1", map[string]interface{}{"name": "Widget"})

	require.NoError(t, env.svc.DeleteItem(context.Background(), contentengine.DeleteItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       "p-1",
		Hard:     true,
	}))
	assert.Equal(t, 0, env.store.Len())

	err := env.svc.DeleteItem(context.Background(), contentengine.DeleteItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       "p-1",
		Hard:     true,
	})
	assert.Equal(t, contentengine.CodeNotFound, contentengine.CodeOf(err))
}

func TestTierGating(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateItem(ctx, contentengine.CreateItemRequest{
		Caller:   basicCaller(),
		Resource: "products",
		Data:     map[string]interface{}{"name": "Widget"},
	})
	assert.Equal(t, contentengine.CodeForbidden, contentengine.CodeOf(err))

	_, err = env.svc.ExportToCSV(ctx, contentengine.ExportRequest{
		Caller:   basicCaller(),
		Resource: "products",
	})
	require.Error(t, err)
	assert.Equal(t, contentengine.CodeForbidden, contentengine.CodeOf(err))
	assert.Contains(t, err.Error(), "pro", "denial names the required tier")

	_, _, err = env.svc.AuditEntries(ctx, contentengine.AuditQueryRequest{Caller: basicCaller()})
	assert.Equal(t, contentengine.CodeForbidden, contentengine.CodeOf(err))
}

func TestListItemsScopedToResource(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	createProduct(t, env, "p-1", map[string]interface{}{"name": "Widget"})
	_, err := env.svc.CreateItem(ctx, contentengine.CreateItemRequest{
		Caller:   proCaller(),
		Resource: "categories",
		ID:       "c-1",
		Data:     map[string]interface{}{"title": "Widgets"},
	})
	require.NoError(t, err)

	list, err := env.svc.ListItems(ctx, contentengine.ListItemsRequest{
		Caller:   proCaller(),
		Resource: "products",
	})
	require.NoError(t, err)
	require.Len(t, list.Items, 1, "other resources never leak into a listing")
	assert.Equal(t, "p-1", list.Items[0].ID())

	list, err = env.svc.ListItems(ctx, contentengine.ListItemsRequest{
		Caller:   proCaller(),
		Resource: "categories",
	})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "c-1", list.Items[0].ID())

	// Search is scoped the same way even when the term matches both.
	result, err := env.svc.SearchItems(ctx, contentengine.SearchRequest{
		Caller:   proCaller(),
		Resource: "products",
		Query:    "widget",
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "p-1", result.Items[0].ID())
}

func TestListItemsDefaultSortNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		createProduct(t, env, fmt.Sprintf("p-%d", i), map[string]interface{}{
			"name": fmt.Sprintf("Widget %d", i),
		})
	}

	list, err := env.svc.ListItems(context.Background(), contentengine.ListItemsRequest{
		Caller:   proCaller(),
		Resource: "products",
	})
	require.NoError(t, err)
	require.Len(t, list.Items, 3)
	assert.Equal(t, "p-2", list.Items[0].ID(), "default sort is createdAt descending")
	assert.Equal(t, "p-0", list.Items[2].ID())
}

func TestListItemsFilterAndSort(t *testing.T) {
	env := newTestEnv(t)
	prices := []float64{30, 10, 20}
	for i, price := range prices {
		createProduct(t, env, fmt.Sprintf("p-%d", i), map[string]interface{}{
			"name":   fmt.Sprintf("Widget %d", i),
			"price":  price,
			"status": "active",
		})
	}
	createProduct(t, env, "p-draft", map[string]interface{}{"name": "Draft"})

	list, err := env.svc.ListItems(context.Background(), contentengine.ListItemsRequest{
		Caller:   proCaller(),
		Resource: "products",
		Filters: []query.Filter{
			{Field: "status", Op: query.OpEq, Value: "active"},
		},
		SortField: "price",
	})
	require.NoError(t, err)
	require.Len(t, list.Items, 3)
	assert.Equal(t, 10.0, list.Items[0]["price"])
	assert.Equal(t, 30.0, list.Items[2]["price"])
}

func TestListItemsPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		createProduct(t, env, fmt.Sprintf("p-%d", i), map[string]interface{}{
			"name": fmt.Sprintf("Widget %d", i),
		})
	}

	var seen []string
	cursor := ""
	for {
		list, err := env.svc.ListItems(context.Background(), contentengine.ListItemsRequest{
			Caller:   proCaller(),
			Resource: "products",
			Limit:    2,
			Cursor:   cursor,
		})
		require.NoError(t, err)
		for _, it := range list.Items {
			seen = append(seen, it.ID())
		}
		if !list.HasMore {
			break
		}
		require.NotEmpty(t, list.Cursor)
		cursor = list.Cursor
	}
	assert.Len(t, seen, 5)

	// A corrupt cursor restarts from the beginning instead of failing.
	list, err := env.svc.ListItems(context.Background(), contentengine.ListItemsRequest{
		Caller:   proCaller(),
		Resource: "products",
		Cursor:   "garbage!!!",
	})
	require.NoError(t, err)
	assert.Len(t, list.Items, 5)
}

func TestSearchItems(t *testing.T) {
	env := newTestEnv(t)
	createProduct(t, env, "p-1", map[string]interface{}{"name": "Blue Widget"})
	createProduct(t, env, "p-2", map[string]interface{}{"name": "Red Gadget"})

	result, err := env.svc.SearchItems(context.Background(), contentengine.SearchRequest{
		Caller:   proCaller(),
		Resource: "products",
		Query:    "WIDGET",
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "p-1", result.Items[0].ID())

	_, err = env.svc.SearchItems(context.Background(), contentengine.SearchRequest{
		Caller: proCaller(),
		Query:  "widget",
	})
	assert.Equal(t, contentengine.CodeBadRequest, contentengine.CodeOf(err))
}

func TestBulkCreatePartialFailure(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.svc.BulkCreate(context.Background(), contentengine.BulkCreateRequest{
		Caller:   proCaller(),
		Resource: "products",
		Items: []map[string]interface{}{
			{"name": "Widget A"},
			{"price": 10.0}, // missing required name
			{"name": "Widget B"},
		},
	})
	require.NoError(t, err, "partial failure never raises")
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "row 2", result.Errors[0].ID)
}

func TestBulkDeleteChunkFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t)

	ids := make([]string, 30)
	for i := range ids {
		ids[i] = fmt.Sprintf("p-%d", i)
		createProduct(t, env, ids[i], map[string]interface{}{"name": "Widget"})
	}

	// First chunk of 25 succeeds; the second chunk of 5 is throttled.
	env.store.FailNextBatch(nil, errors.New("throttled"))

	result, err := env.svc.BulkDelete(context.Background(), contentengine.BulkDeleteRequest{
		Caller:   proCaller(),
		Resource: "products",
		IDs:      ids,
	})
	require.NoError(t, err)
	assert.Equal(t, 25, result.Succeeded)
	assert.Equal(t, 5, result.Failed)
	require.Len(t, result.Errors, 5)
	for _, e := range result.Errors {
		assert.Contains(t, e.Message, "throttled")
	}
	assert.Equal(t, 5, env.store.Len())
}

func TestBulkUpdateWritesLeafAndSummaryAudits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	createProduct(t, env, "p-1", map[string]interface{}{"name": "Widget", "price": 10.0})
	createProduct(t, env, "p-2", map[string]interface{}{"name": "Gadget", "price": 20.0})

	result, err := env.svc.BulkUpdate(ctx, contentengine.BulkUpdateRequest{
		Caller:   proCaller(),
		Resource: "products",
		Items: []contentengine.BulkUpdateItem{
			{ID: "p-1", Data: map[string]interface{}{"price": 11.0}},
			{ID: "missing", Data: map[string]interface{}{"price": 1.0}},
			{ID: "p-2", Data: map[string]interface{}{"price": 21.0}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "missing", result.Errors[0].ID)

	entries, err := env.auditStore.Query(ctx, audit.Filter{Actions: []string{"update"}}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "one leaf entry per updated item")

	summaries, err := env.auditStore.Query(ctx, audit.Filter{Actions: []string{"bulk_update"}}, 0, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].BulkCount)
	assert.ElementsMatch(t, []string{"p-1", "p-2"}, summaries[0].BulkIDs)
}

func TestAuditTrailOnMutations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	createProduct(t, env, "p-1", map[string]interface{}{"name": "Widget", "price": 10.0})
	_, err := env.svc.UpdateItem(ctx, contentengine.UpdateItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       "p-1",
		Data:     map[string]interface{}{"price": 12.0},
	})
	require.NoError(t, err)

	entries, total, err := env.svc.AuditEntries(ctx, contentengine.AuditQueryRequest{
		Caller: proCaller(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, entries, 2)
	assert.Equal(t, "update", entries[0].Action, "newest first")
	assert.Equal(t, "proj-1", entries[0].ProjectID, "filter scoped to the caller's project")

	history, err := env.svc.ItemHistory(ctx, contentengine.ItemHistoryRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       "p-1",
	})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "update", history[0].Action)
	assert.Equal(t, 10.0, history[0].Before["price"])
	assert.Equal(t, 12.0, history[0].After["price"])
}

func TestResources(t *testing.T) {
	env := newTestEnv(t)

	cfg, err := env.svc.Resources(context.Background(), basicCaller())
	require.NoError(t, err)
	require.Len(t, cfg.Resources, 2)
	assert.Equal(t, "products", cfg.Resources[0].Name)

	unknown := caller(contentengine.TierBasic)
	unknown.TemplateID = "nope"
	cfg, err = env.svc.Resources(context.Background(), unknown)
	require.NoError(t, err)
	assert.Empty(t, cfg.Resources, "unknown template resolves to an empty config")
}

func TestUnknownResourcePassesThroughWithoutSchema(t *testing.T) {
	env := newTestEnv(t)

	// Resources outside the template have no schema; data passes through
	// unvalidated rather than failing.
	item, err := env.svc.CreateItem(context.Background(), contentengine.CreateItemRequest{
		Caller:   proCaller(),
		Resource: "gizmos",
		Data:     map[string]interface{}{"anything": "goes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "goes", item["anything"])
}
