// Package visited persists per-project visited location sets.
package visited

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps one JSONB row per (owner, project). Owner namespaces the
// sets: a profile id on the server, a fixed device id on a single device.
type SQLiteStore struct {
	db    *sql.DB
	owner string
}

// NewSQLiteStore expects the visited_sets table from the migrations package.
func NewSQLiteStore(db *sql.DB, owner string) *SQLiteStore {
	return &SQLiteStore{db: db, owner: owner}
}

// For returns a store sharing the same database under another owner.
func (s *SQLiteStore) For(owner string) *SQLiteStore {
	return &SQLiteStore{db: s.db, owner: owner}
}

func (s *SQLiteStore) Get(ctx context.Context, projectID string) ([]string, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT json(data) FROM visited_sets WHERE owner = ? AND project_id = ?`,
		s.owner, projectID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading visited set: %w", err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("decoding visited set: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) Set(ctx context.Context, projectID string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO visited_sets (owner, project_id, data, updated_at) VALUES (?, ?, jsonb(?), ?)
		 ON CONFLICT(owner, project_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.owner, projectID, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing visited set: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM visited_sets WHERE owner = ? AND project_id = ?`,
		s.owner, projectID,
	)
	if err != nil {
		return fmt.Errorf("removing visited set: %w", err)
	}
	return nil
}
