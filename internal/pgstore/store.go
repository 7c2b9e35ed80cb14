// Package pgstore persists the run table in PostgreSQL. Runs are upserted by
// ID; the bound upstream runs, artifacts and status history are stored as
// JSONB columns.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/pipegraph/internal/pipeline"
	"github.com/specialistvlad/pipegraph/internal/runstore"
)

// DB is the subset of *sql.DB the store uses.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const (
	createTableQuery = `CREATE TABLE IF NOT EXISTS pipeline_runs (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		stage_id TEXT NOT NULL,
		revision TEXT NOT NULL,
		committer TEXT NOT NULL DEFAULT '',
		cause TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		upstream JSONB NOT NULL,
		artifacts JSONB NOT NULL,
		history JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`

	upsertRunQuery = `INSERT INTO pipeline_runs (
		id, stage_id, revision, committer, cause, status, reason,
		upstream, artifacts, history, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		reason = EXCLUDED.reason,
		upstream = EXCLUDED.upstream,
		artifacts = EXCLUDED.artifacts,
		history = EXCLUDED.history,
		updated_at = EXCLUDED.updated_at`

	listRunsQuery = `SELECT id, stage_id, revision, committer, cause, status, reason,
		upstream, artifacts, history, created_at
	 FROM pipeline_runs
	 ORDER BY seq ASC`
)

// Store is a runstore.Store backed by PostgreSQL.
type Store struct {
	db DB
}

var _ runstore.Store = (*Store)(nil)

// New wraps an open database.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate creates the runs table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableQuery); err != nil {
		return fmt.Errorf("create pipeline_runs: %w", err)
	}
	return nil
}

// SaveRun inserts the run or updates its mutable columns.
func (s *Store) SaveRun(ctx context.Context, run *pipeline.Run) error {
	if s == nil || s.db == nil {
		return errors.New("run store not initialized")
	}
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertRunQuery, args...); err != nil {
		return fmt.Errorf("upsert run %s: %w", run.ID, err)
	}
	return nil
}

// LoadRuns returns every run in insertion order.
func (s *Store) LoadRuns(ctx context.Context) ([]*pipeline.Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("run store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listRunsQuery)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.Run
	for rows.Next() {
		var (
			r                            pipeline.Run
			status                       string
			upstream, artifacts, history []byte
		)
		if err := rows.Scan(&r.ID, &r.StageID, &r.Revision, &r.Committer, &r.Cause, &status, &r.Reason,
			&upstream, &artifacts, &history, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := decodeRun(&r, status, upstream, artifacts, history); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", r.ID, err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func runArgs(run *pipeline.Run) ([]any, error) {
	upstream := run.Upstream
	if upstream == nil {
		upstream = map[string]string{}
	}
	artifacts := run.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	history := run.History
	if history == nil {
		history = []pipeline.Transition{}
	}

	up, err := json.Marshal(upstream)
	if err != nil {
		return nil, fmt.Errorf("encode upstream: %w", err)
	}
	art, err := json.Marshal(artifacts)
	if err != nil {
		return nil, fmt.Errorf("encode artifacts: %w", err)
	}
	hist, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	return []any{
		run.ID, run.StageID, run.Revision, run.Committer, run.Cause, run.Status.String(), run.Reason,
		up, art, hist, normalizeTime(run.CreatedAt), normalizeTime(run.UpdatedAt()),
	}, nil
}

func decodeRun(r *pipeline.Run, status string, upstream, artifacts, history []byte) error {
	var err error
	if r.Status, err = pipeline.ParseStatus(status); err != nil {
		return err
	}
	if err := json.Unmarshal(upstream, &r.Upstream); err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	if err := json.Unmarshal(artifacts, &r.Artifacts); err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}
	if err := json.Unmarshal(history, &r.History); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if len(r.Artifacts) == 0 {
		r.Artifacts = nil
	}
	if len(r.History) == 0 {
		r.History = nil
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return nil
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
