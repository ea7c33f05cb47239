package contentengine_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/content-engine/pkg/contentengine"
	"github.com/appforge/content-engine/pkg/contentengine/audit"
	"github.com/appforge/content-engine/pkg/contentengine/query"
)

func readExport(t *testing.T, env *testEnv, key string) [][]string {
	t.Helper()
	obj, ok := env.blobs.Get(key)
	require.True(t, ok, "export blob %q not stored", key)
	assert.Equal(t, "text/csv", obj.ContentType)

	records, err := csv.NewReader(bytes.NewReader(obj.Data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestExportToCSV(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	createProduct(t, env, "p-1", map[string]interface{}{"name": "Widget", "price": 19.99})
	createProduct(t, env, "p-2", map[string]interface{}{"name": "Gadget"})

	result, err := env.svc.ExportToCSV(ctx, contentengine.ExportRequest{
		Caller:   proCaller(),
		Resource: "products",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)
	assert.True(t, strings.HasPrefix(result.Key, "exports/proj-1/products-"), result.Key)
	assert.Equal(t, "memory://"+result.Key, result.DownloadURL)
	assert.False(t, result.ExpiresAt.IsZero())

	records := readExport(t, env, result.Key)
	require.Len(t, records, 3)
	// Columns come from the schema; hidden attributes stay out.
	assert.Equal(t, []string{"id", "name", "price", "status"}, records[0])

	byID := map[string][]string{}
	for _, row := range records[1:] {
		byID[row[0]] = row
	}
	require.Contains(t, byID, "p-1")
	assert.Equal(t, []string{"p-1", "Widget", "19.99", "draft"}, byID["p-1"])
	assert.Equal(t, "", byID["p-2"][2], "sparse records render empty cells")

	entries, err := env.auditStore.Query(ctx, audit.Filter{Actions: []string{"export"}}, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].BulkCount)
}

func TestExportWithFilters(t *testing.T) {
	env := newTestEnv(t)
	createProduct(t, env, "p-1", map[string]interface{}{"name": "Widget", "status": "active"})
	createProduct(t, env, "p-2", map[string]interface{}{"name": "Gadget"})

	result, err := env.svc.ExportToCSV(context.Background(), contentengine.ExportRequest{
		Caller:   proCaller(),
		Resource: "products",
		Filters: []query.Filter{
			{Field: "status", Op: query.OpEq, Value: "active"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)

	records := readExport(t, env, result.Key)
	require.Len(t, records, 2)
	assert.Equal(t, "p-1", records[1][0])
}

func TestExportScopedToResource(t *testing.T) {
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

	result, err := env.svc.ExportToCSV(ctx, contentengine.ExportRequest{
		Caller:   proCaller(),
		Resource: "products",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows, "other resources stay out of the export")

	records := readExport(t, env, result.Key)
	require.Len(t, records, 2)
	assert.Equal(t, "p-1", records[1][0])
}

func TestExportUnknownResource(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ExportToCSV(context.Background(), contentengine.ExportRequest{
		Caller:   proCaller(),
		Resource: "gizmos",
	})
	assert.Equal(t, contentengine.CodeNotFound, contentengine.CodeOf(err))
}

func TestImportCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.ImportFromCSV(ctx, contentengine.ImportRequest{
		Caller:   proCaller(),
		Resource: "products",
		Mode:     contentengine.ImportCreate,
		CSV:      "name,price\nWidget,10\nGadget,20.5\n",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	list, err := env.svc.ListItems(ctx, contentengine.ListItemsRequest{
		Caller:   proCaller(),
		Resource: "products",
	})
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	prices := map[string]interface{}{}
	for _, it := range list.Items {
		prices[it["name"].(string)] = it["price"]
	}
	assert.Equal(t, 10.0, prices["Widget"], "numeric cells re-typed")
	assert.Equal(t, 20.5, prices["Gadget"])
}

func TestImportCreateRowValidation(t *testing.T) {
	env := newTestEnv(t)

	// The second row has an empty name cell, so the required field is
	// absent entirely.
	result, err := env.svc.ImportFromCSV(context.Background(), contentengine.ImportRequest{
		Caller:   proCaller(),
		Resource: "products",
		Mode:     contentengine.ImportCreate,
		CSV:      "name,price\nWidget,10\n,20\n",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "row 2", result.Errors[0].ID)
	assert.Contains(t, result.Errors[0].Message, "validation")
}

func TestImportUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	createProduct(t, env, "p-1", map[string]interface{}{"name": "Widget", "price": 10.0})

	result, err := env.svc.ImportFromCSV(ctx, contentengine.ImportRequest{
		Caller:   proCaller(),
		Resource: "products",
		Mode:     contentengine.ImportUpdate,
		CSV:      "id,price\np-1,12\nmissing,1\n",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "missing", result.Errors[0].ID)

	got, err := env.svc.GetItem(ctx, contentengine.GetItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       "p-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 12.0, got["price"])
	assert.Equal(t, "Widget", got["name"])
}

func TestImportUpdateRequiresIDColumn(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ImportFromCSV(context.Background(), contentengine.ImportRequest{
		Caller:   proCaller(),
		Resource: "products",
		Mode:     contentengine.ImportUpdate,
		CSV:      "name,price\nWidget,10\n",
	})
	require.Error(t, err)
	assert.Equal(t, contentengine.CodeBadRequest, contentengine.CodeOf(err))
}

func TestImportUpsert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	createProduct(t, env, "p-1", map[string]interface{}{"name": "Old"})

	// One existing id, one unknown id, one row with no id at all.
	result, err := env.svc.ImportFromCSV(ctx, contentengine.ImportRequest{
		Caller:   proCaller(),
		Resource: "products",
		Mode:     contentengine.ImportUpsert,
		CSV:      "id,name\np-1,Updated\np-9,Created\n,Generated\n",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	got, err := env.svc.GetItem(ctx, contentengine.GetItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       "p-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Updated", got["name"], "existing row updated in place")

	got, err = env.svc.GetItem(ctx, contentengine.GetItemRequest{
		Caller:   proCaller(),
		Resource: "products",
		ID:       "p-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "Created", got["name"], "unknown id created under that id")

	list, err := env.svc.ListItems(ctx, contentengine.ListItemsRequest{
		Caller:   proCaller(),
		Resource: "products",
	})
	require.NoError(t, err)
	assert.Len(t, list.Items, 3, "id-less row created with a generated id")
}

func TestImportDryRun(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.svc.ImportFromCSV(context.Background(), contentengine.ImportRequest{
		Caller:   proCaller(),
		Resource: "products",
		Mode:     contentengine.ImportCreate,
		CSV:      "name\nWidget\nGadget\n",
		DryRun:   true,
	})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 0, env.store.Len(), "dry run writes nothing")
}

func TestImportSkipErrors(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.svc.ImportFromCSV(context.Background(), contentengine.ImportRequest{
		Caller:     proCaller(),
		Resource:   "products",
		Mode:       contentengine.ImportCreate,
		CSV:        "name,price\nWidget,10\n,20\n",
		SkipErrors: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, result.Errors)
}

func TestImportUnknownMode(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ImportFromCSV(context.Background(), contentengine.ImportRequest{
		Caller:   proCaller(),
		Resource: "products",
		Mode:     "merge",
		CSV:      "name\nWidget\n",
	})
	assert.Equal(t, contentengine.CodeBadRequest, contentengine.CodeOf(err))
}

func TestImportMalformedCSV(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ImportFromCSV(context.Background(), contentengine.ImportRequest{
		Caller:   proCaller(),
		Resource: "products",
		Mode:     contentengine.ImportCreate,
		CSV:      "name\n\"unclosed\n",
	})
	require.Error(t, err)
	assert.Equal(t, contentengine.CodeBadRequest, contentengine.CodeOf(err))
	assert.Contains(t, err.Error(), "malformed CSV")
}
