// Package postgres persists audit entries in PostgreSQL with JSONB
// payloads.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appforge/content-engine/pkg/contentengine/audit"
)

// DBTX is satisfied by both a pgx pool and a transaction.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db DBTX
}

// New creates a store over a connection or transaction.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// NewWithPool creates a store over a connection pool.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// Schema is the DDL for the audit table, applied by migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id            UUID PRIMARY KEY,
    project_id    TEXT NOT NULL,
    user_id       TEXT NOT NULL,
    action        TEXT NOT NULL,
    resource      TEXT NOT NULL,
    resource_id   TEXT NOT NULL DEFAULT '',
    previous_data JSONB,
    new_data      JSONB,
    bulk_count    INTEGER NOT NULL DEFAULT 0,
    bulk_ids      JSONB,
    created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_entries_project_created_idx
    ON audit_entries (project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS audit_entries_resource_idx
    ON audit_entries (resource, resource_id);
`

func (s *Store) Save(ctx context.Context, entry *audit.Entry) error {
	previous, err := marshalJSONB(entry.PreviousData)
	if err != nil {
		return fmt.Errorf("marshal previous data: %w", err)
	}
	next, err := marshalJSONB(entry.NewData)
	if err != nil {
		return fmt.Errorf("marshal new data: %w", err)
	}
	var bulkIDs []byte
	if len(entry.BulkIDs) > 0 {
		if bulkIDs, err = json.Marshal(entry.BulkIDs); err != nil {
			return fmt.Errorf("marshal bulk ids: %w", err)
		}
	}

	query := `
		INSERT INTO audit_entries (
			id, project_id, user_id, action, resource, resource_id,
			previous_data, new_data, bulk_count, bulk_ids, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.db.Exec(ctx, query,
		entry.ID, entry.ProjectID, entry.UserID, entry.Action,
		entry.Resource, entry.ResourceID, previous, next,
		entry.BulkCount, bulkIDs, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("save audit entry: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter audit.Filter, limit, offset int) ([]*audit.Entry, error) {
	where, args := buildWhere(filter)
	query := `
		SELECT id, project_id, user_id, action, resource, resource_id,
		       previous_data, new_data, bulk_count, bulk_ids, created_at
		FROM audit_entries` + where + `
		ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		var e audit.Entry
		var previous, next, bulkIDs []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.UserID, &e.Action,
			&e.Resource, &e.ResourceID, &previous, &next,
			&e.BulkCount, &bulkIDs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := unmarshalJSONB(previous, &e.PreviousData); err != nil {
			return nil, fmt.Errorf("decode previous data: %w", err)
		}
		if err := unmarshalJSONB(next, &e.NewData); err != nil {
			return nil, fmt.Errorf("decode new data: %w", err)
		}
		if len(bulkIDs) > 0 {
			if err := json.Unmarshal(bulkIDs, &e.BulkIDs); err != nil {
				return nil, fmt.Errorf("decode bulk ids: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *Store) Count(ctx context.Context, filter audit.Filter) (int, error) {
	where, args := buildWhere(filter)
	var count int
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}

func (s *Store) Delete(ctx context.Context, filter audit.Filter) (int, error) {
	where, args := buildWhere(filter)
	tag, err := s.db.Exec(ctx, "DELETE FROM audit_entries"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete audit entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func buildWhere(filter audit.Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.ProjectID != "" {
		add("project_id = $%d", filter.ProjectID)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Resource != "" {
		add("resource = $%d", filter.Resource)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if len(filter.Actions) > 0 {
		add("action = ANY($%d)", filter.Actions)
	}
	if filter.Since != nil {
		add("created_at >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		add("created_at < $%d", *filter.Until)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func marshalJSONB(data map[string]interface{}) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}

func unmarshalJSONB(raw []byte, into *map[string]interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}
