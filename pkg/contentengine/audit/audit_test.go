package audit_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/content-engine/pkg/contentengine/audit"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLogRedactsSensitiveFields(t *testing.T) {
	store := audit.NewMemoryStore(0)
	logger := audit.New(store)

	original := map[string]interface{}{
		"name":    "Widget",
		"api_key": "sk-live-12345",
		"Token":   "abc",
		"nested": map[string]interface{}{
			"password": "hunter2",
			"color":    "blue",
		},
		"accounts": []interface{}{
			map[string]interface{}{"secret": "s1", "id": "a1"},
		},
	}

	entry, err := logger.Log(context.Background(), audit.Input{
		ProjectID:  "p-1",
		UserID:     "u-1",
		Action:     "create",
		Resource:   "products",
		ResourceID: "item-1",
		NewData:    original,
	})
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, audit.RedactedPlaceholder, entry.NewData["api_key"])
	assert.Equal(t, audit.RedactedPlaceholder, entry.NewData["Token"])
	assert.Equal(t, "Widget", entry.NewData["name"])

	nested := entry.NewData["nested"].(map[string]interface{})
	assert.Equal(t, audit.RedactedPlaceholder, nested["password"])
	assert.Equal(t, "blue", nested["color"])

	account := entry.NewData["accounts"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, audit.RedactedPlaceholder, account["secret"])
	assert.Equal(t, "a1", account["id"])

	// The caller's map is never mutated.
	assert.Equal(t, "sk-live-12345", original["api_key"])
}

func TestLogCustomSensitiveFields(t *testing.T) {
	logger := audit.New(audit.NewMemoryStore(0), audit.WithSensitiveFields("internal_code"))

	entry, err := logger.Log(context.Background(), audit.Input{
		Action:   "create",
		Resource: "products",
		NewData: map[string]interface{}{
			"internalCode": "x-99",
			"password":     "left alone",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, audit.RedactedPlaceholder, entry.NewData["internalCode"])
	assert.Equal(t, "left alone", entry.NewData["password"])
}

func TestDisabledLoggerIsNoop(t *testing.T) {
	store := audit.NewMemoryStore(0)
	logger := audit.New(store, audit.Disabled())

	entry, err := logger.Log(context.Background(), audit.Input{Action: "create"})
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, 0, store.Len())

	entries, err := logger.Entries(context.Background(), audit.Filter{}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	store := audit.NewMemoryStore(3)
	logger := audit.New(store)

	for i := 0; i < 5; i++ {
		_, err := logger.Log(context.Background(), audit.Input{
			Action:     "create",
			Resource:   "products",
			ResourceID: fmt.Sprintf("item-%d", i),
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, store.Len())
	entries, err := store.Query(context.Background(), audit.Filter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Newest first; the two oldest were evicted.
	assert.Equal(t, "item-4", entries[0].ResourceID)
	assert.Equal(t, "item-2", entries[2].ResourceID)
}

func TestEntriesFilterAndPagination(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	logger := audit.New(audit.NewMemoryStore(0), audit.WithClock(func() time.Time {
		current = current.Add(time.Minute)
		return current
	}))

	for i := 0; i < 4; i++ {
		user := "u-1"
		if i%2 == 1 {
			user = "u-2"
		}
		_, err := logger.Log(context.Background(), audit.Input{
			ProjectID:  "p-1",
			UserID:     user,
			Action:     "update",
			Resource:   "products",
			ResourceID: fmt.Sprintf("item-%d", i),
		})
		require.NoError(t, err)
	}

	byUser, err := logger.ByUser(context.Background(), "u-2", 0)
	require.NoError(t, err)
	require.Len(t, byUser, 2)

	entries, total, err := logger.Search(context.Background(), audit.Filter{ProjectID: "p-1"}, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, entries, 2)
	// Newest first, offset skips the newest.
	assert.Equal(t, "item-2", entries[0].ResourceID)
}

func TestItemHistoryAndChanges(t *testing.T) {
	logger := audit.New(audit.NewMemoryStore(0))

	_, err := logger.Log(context.Background(), audit.Input{
		UserID:     "u-1",
		Action:     "create",
		Resource:   "products",
		ResourceID: "item-1",
		NewData:    map[string]interface{}{"price": 10.0},
	})
	require.NoError(t, err)
	_, err = logger.Log(context.Background(), audit.Input{
		UserID:       "u-1",
		Action:       "update",
		Resource:     "products",
		ResourceID:   "item-1",
		PreviousData: map[string]interface{}{"price": 10.0},
		NewData:      map[string]interface{}{"price": 12.0},
	})
	require.NoError(t, err)

	changes, err := logger.Changes(context.Background(), "products", "item-1", 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "update", changes[0].Action)
	assert.Equal(t, map[string]interface{}{"price": 10.0}, changes[0].Before)
	assert.Equal(t, map[string]interface{}{"price": 12.0}, changes[0].After)
	assert.Equal(t, "create", changes[1].Action)
}

func TestCleanupPrunesByRetention(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := audit.NewMemoryStore(0)

	old := audit.New(store, audit.WithClock(fixedClock(now.AddDate(0, 0, -10))))
	_, err := old.Log(context.Background(), audit.Input{ProjectID: "p-1", Action: "create", Resource: "products"})
	require.NoError(t, err)

	logger := audit.New(store, audit.WithRetention(7), audit.WithClock(fixedClock(now)))
	_, err = logger.Log(context.Background(), audit.Input{ProjectID: "p-1", Action: "update", Resource: "products"})
	require.NoError(t, err)

	deleted, err := logger.Cleanup(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, store.Len())

	// Idempotent: nothing new to prune.
	deleted, err = logger.Cleanup(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestNewTieredPolicies(t *testing.T) {
	store := audit.NewMemoryStore(0)

	basic := audit.NewTiered(audit.TierBasic, store)
	assert.False(t, basic.Enabled())

	pro := audit.NewTiered(audit.TierPro, store)
	assert.True(t, pro.Enabled())
	assert.Equal(t, audit.RetentionPro, pro.RetentionDays())

	enterprise := audit.NewTiered(audit.TierEnterprise, store)
	assert.True(t, enterprise.Enabled())
	assert.Equal(t, audit.RetentionEnterprise, enterprise.RetentionDays())

	unknown := audit.NewTiered("trial", store)
	assert.False(t, unknown.Enabled())
}
