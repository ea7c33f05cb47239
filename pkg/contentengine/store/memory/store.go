// Package memory provides an in-memory Store for development and
// tests. It mirrors the production store's semantics: composite keys,
// conditional writes, filtered scans and unconditioned batch writes.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/appforge/content-engine/pkg/contentengine"
	"github.com/appforge/content-engine/pkg/contentengine/query"
)

// Store implements contentengine.Store with a mutex-guarded map.
type Store struct {
	mu    sync.RWMutex
	items map[string]contentengine.Item

	// FailBatch makes the next BatchWrite calls return the given
	// error, for exercising partial-failure paths in tests.
	failMu    sync.Mutex
	failBatch []error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{items: make(map[string]contentengine.Item)}
}

func storageKey(pk, sk string) string {
	return pk + "|" + sk
}

func itemKey(item contentengine.Item) string {
	pk, _ := item[contentengine.FieldPK].(string)
	sk, _ := item[contentengine.FieldSK].(string)
	return storageKey(pk, sk)
}

func (s *Store) Get(ctx context.Context, key contentengine.CompositeKey) (contentengine.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[storageKey(key.PartitionKey(), key.SortKey)]
	if !ok {
		return nil, contentengine.ErrItemNotFound
	}
	return item.Clone(), nil
}

func (s *Store) Put(ctx context.Context, item contentengine.Item, ifNotExists bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := itemKey(item)
	if ifNotExists {
		if _, exists := s.items[k]; exists {
			return contentengine.ErrConditionFailed
		}
	}
	s.items[k] = item.Clone()
	return nil
}

func (s *Store) Update(ctx context.Context, key contentengine.CompositeKey, attrs map[string]interface{}, ifExists bool) (contentengine.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storageKey(key.PartitionKey(), key.SortKey)
	existing, ok := s.items[k]
	if !ok {
		if ifExists {
			return nil, contentengine.ErrConditionFailed
		}
		existing = contentengine.Item(key.Map())
		existing[contentengine.FieldID] = key.ID
	}

	updated := existing.Clone()
	for name, value := range attrs {
		if value == nil {
			delete(updated, name)
			continue
		}
		updated[name] = value
	}
	s.items[k] = updated
	return updated.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, key contentengine.CompositeKey, ifExists bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storageKey(key.PartitionKey(), key.SortKey)
	if _, ok := s.items[k]; !ok && ifExists {
		return contentengine.ErrConditionFailed
	}
	delete(s.items, k)
	return nil
}

func (s *Store) Scan(ctx context.Context, q *query.Query) (*contentengine.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Stable iteration order so pagination keys are meaningful.
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	startAfter := ""
	if q.StartKey != nil {
		pk, _ := q.StartKey[contentengine.FieldPK].(string)
		sk, _ := q.StartKey[contentengine.FieldSK].(string)
		startAfter = storageKey(pk, sk)
	}

	page := &contentengine.Page{}
	for i, k := range keys {
		if startAfter != "" && k <= startAfter {
			continue
		}
		item := s.items[k]
		if !q.Matches(map[string]interface{}(item)) {
			continue
		}
		page.Items = append(page.Items, item.Clone())
		if q.Limit > 0 && len(page.Items) >= q.Limit {
			if i < len(keys)-1 {
				page.LastKey = map[string]interface{}{
					contentengine.FieldPK: item[contentengine.FieldPK],
					contentengine.FieldSK: item[contentengine.FieldSK],
				}
			}
			break
		}
	}
	return page, nil
}

func (s *Store) Query(ctx context.Context, q *query.Query) (*contentengine.Page, error) {
	if q.Key == nil {
		return s.Scan(ctx, q)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []contentengine.Item
	keyCond := query.Condition{
		Field: q.Key.PartitionName,
		Op:    query.OpEq,
		Value: q.Key.PartitionValue,
	}
	var sortCond *query.Condition
	if q.Key.SortName != "" && q.Key.SortOp != "" {
		sortCond = &query.Condition{
			Field:  q.Key.SortName,
			Op:     q.Key.SortOp,
			Value:  q.Key.SortValue,
			Value2: q.Key.SortValue2,
		}
	}
	for _, item := range s.items {
		m := map[string]interface{}(item)
		if !keyCond.Matches(m) {
			continue
		}
		if sortCond != nil && !sortCond.Matches(m) {
			continue
		}
		matched = append(matched, item.Clone())
	}

	if q.Key.SortName != "" {
		query.ApplySort(itemsAsMaps(matched), query.Sort{
			Field:      q.Key.SortName,
			Descending: !q.ScanForward,
		})
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return &contentengine.Page{Items: matched}, nil
}

func (s *Store) BatchWrite(ctx context.Context, puts []contentengine.Item, deletes []contentengine.CompositeKey) error {
	if err := s.nextBatchErr(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range puts {
		s.items[itemKey(item)] = item.Clone()
	}
	for _, key := range deletes {
		delete(s.items, storageKey(key.PartitionKey(), key.SortKey))
	}
	return nil
}

// FailNextBatch queues errors returned by subsequent BatchWrite calls,
// one per call, for testing partial-failure behavior.
func (s *Store) FailNextBatch(errs ...error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failBatch = append(s.failBatch, errs...)
}

func (s *Store) nextBatchErr() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if len(s.failBatch) == 0 {
		return nil
	}
	err := s.failBatch[0]
	s.failBatch = s.failBatch[1:]
	return err
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func itemsAsMaps(items []contentengine.Item) []map[string]interface{} {
	out := make([]map[string]interface{}, len(items))
	for i := range items {
		out[i] = items[i]
	}
	return out
}
