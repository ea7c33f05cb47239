// Package audit records every mutating content operation with
// before/after payloads. Entries are append-only: created once, never
// mutated, and pruned only by retention cleanup.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable audit record.
type Entry struct {
	ID           string                 `json:"id"`
	ProjectID    string                 `json:"project_id"`
	UserID       string                 `json:"user_id"`
	Action       string                 `json:"action"`
	Resource     string                 `json:"resource"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	PreviousData map[string]interface{} `json:"previous_data,omitempty"`
	NewData      map[string]interface{} `json:"new_data,omitempty"`
	BulkCount    int                    `json:"bulk_count,omitempty"`
	BulkIDs      []string               `json:"bulk_ids,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Filter narrows queries over stored entries. Zero fields match
// everything.
type Filter struct {
	ProjectID  string
	UserID     string
	Actions    []string
	Resource   string
	ResourceID string
	Since      *time.Time
	Until      *time.Time
}

// Store is the pluggable persistence behind the logger.
type Store interface {
	Save(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, filter Filter, limit, offset int) ([]*Entry, error)
	Count(ctx context.Context, filter Filter) (int, error)
	Delete(ctx context.Context, filter Filter) (int, error)
}

// Input is the payload for Log. Data maps are redacted on a copy; the
// caller's maps are never mutated.
type Input struct {
	ProjectID    string
	UserID       string
	Action       string
	Resource     string
	ResourceID   string
	PreviousData map[string]interface{}
	NewData      map[string]interface{}
	BulkCount    int
	BulkIDs      []string
}

// Logger writes redacted audit entries to its store.
type Logger struct {
	store         Store
	enabled       bool
	retentionDays int
	sensitive     map[string]bool
	now           func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithRetention sets how long entries are kept before Cleanup prunes
// them.
func WithRetention(days int) Option {
	return func(l *Logger) { l.retentionDays = days }
}

// WithSensitiveFields replaces the default sensitive-field-name set.
func WithSensitiveFields(fields ...string) Option {
	return func(l *Logger) {
		l.sensitive = make(map[string]bool, len(fields))
		for _, f := range fields {
			l.sensitive[normalizeFieldName(f)] = true
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// Disabled turns the logger into a zero-cost no-op.
func Disabled() Option {
	return func(l *Logger) { l.enabled = false }
}

// New creates a logger over the given store.
func New(store Store, opts ...Option) *Logger {
	l := &Logger{
		store:         store,
		enabled:       true,
		retentionDays: 30,
		now:           time.Now,
	}
	l.sensitive = make(map[string]bool, len(DefaultSensitiveFields))
	for _, f := range DefaultSensitiveFields {
		l.sensitive[normalizeFieldName(f)] = true
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enabled reports whether entries are being recorded.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// RetentionDays returns the configured retention window.
func (l *Logger) RetentionDays() int {
	return l.retentionDays
}

// Log records one entry. Redaction is purely additive and never fails;
// only the store write can error. When the logger is disabled Log is a
// no-op returning (nil, nil).
func (l *Logger) Log(ctx context.Context, in Input) (*Entry, error) {
	if !l.Enabled() {
		return nil, nil
	}
	entry := &Entry{
		ID:           uuid.New().String(),
		ProjectID:    in.ProjectID,
		UserID:       in.UserID,
		Action:       in.Action,
		Resource:     in.Resource,
		ResourceID:   in.ResourceID,
		PreviousData: l.redactMap(in.PreviousData),
		NewData:      l.redactMap(in.NewData),
		BulkCount:    in.BulkCount,
		BulkIDs:      append([]string(nil), in.BulkIDs...),
		CreatedAt:    l.now().UTC(),
	}
	if err := l.store.Save(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Entries queries stored entries.
func (l *Logger) Entries(ctx context.Context, filter Filter, limit, offset int) ([]*Entry, error) {
	if !l.Enabled() {
		return nil, nil
	}
	return l.store.Query(ctx, filter, limit, offset)
}

// ItemHistory returns the entries for one item, newest first.
func (l *Logger) ItemHistory(ctx context.Context, resource, resourceID string, limit int) ([]*Entry, error) {
	return l.Entries(ctx, Filter{Resource: resource, ResourceID: resourceID}, limit, 0)
}

// ByUser returns the entries written by one user, newest first.
func (l *Logger) ByUser(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	return l.Entries(ctx, Filter{UserID: userID}, limit, 0)
}

// Search is Entries plus a total count for pagination UIs.
func (l *Logger) Search(ctx context.Context, filter Filter, limit, offset int) ([]*Entry, int, error) {
	if !l.Enabled() {
		return nil, 0, nil
	}
	entries, err := l.store.Query(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := l.store.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Change is one before/after pair extracted from an item's history.
type Change struct {
	Action string                 `json:"action"`
	UserID string                 `json:"user_id"`
	At     time.Time              `json:"at"`
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// Changes returns the diff history for one item, newest first.
func (l *Logger) Changes(ctx context.Context, resource, resourceID string, limit int) ([]Change, error) {
	entries, err := l.ItemHistory(ctx, resource, resourceID, limit)
	if err != nil {
		return nil, err
	}
	changes := make([]Change, 0, len(entries))
	for _, e := range entries {
		changes = append(changes, Change{
			Action: e.Action,
			UserID: e.UserID,
			At:     e.CreatedAt,
			Before: e.PreviousData,
			After:  e.NewData,
		})
	}
	return changes, nil
}

// Cleanup deletes entries older than the retention window, optionally
// scoped to one project. It is idempotent: a second call with no new
// writes deletes nothing and returns 0.
func (l *Logger) Cleanup(ctx context.Context, projectID string) (int, error) {
	if !l.Enabled() {
		return 0, nil
	}
	cutoff := l.now().UTC().AddDate(0, 0, -l.retentionDays)
	return l.store.Delete(ctx, Filter{ProjectID: projectID, Until: &cutoff})
}

// Matches reports whether an entry satisfies the filter. Store
// implementations without native filtering use it directly.
func (f Filter) Matches(e *Entry) bool {
	if f.ProjectID != "" && e.ProjectID != f.ProjectID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if e.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !e.CreatedAt.Before(*f.Until) {
		return false
	}
	return true
}
