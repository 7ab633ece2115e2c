package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/funai-studio/runtime-agent/internal/agent/orphans"
)

// CleanupRun is a stored orphan reconciler report.
type CleanupRun struct {
	RunID      string            `json:"runId"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	DryRun     bool              `json:"dryRun"`
	LiveApps   int               `json:"liveApps"`
	Scanned    int               `json:"scanned"`
	Candidates int               `json:"candidates"`
	Deleted    []string          `json:"deleted"`
	Errors     map[string]string `json:"errors"`
	Aborted    string            `json:"aborted,omitempty"`
}

// RecordCleanupRun stores a reconciler report.
func (s *Store) RecordCleanupRun(ctx context.Context, rep orphans.Report) error {
	deleted := rep.Deleted
	if deleted == nil {
		deleted = []string{}
	}
	errs := make(map[string]string, len(rep.Errors))
	for _, e := range rep.Errors {
		errs[e.Database] = e.Err.Error()
	}
	deletedJSON, err := json.Marshal(deleted)
	if err != nil {
		return fmt.Errorf("failed to marshal deleted list: %w", err)
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}
	var aborted sql.NullString
	if rep.Aborted != nil {
		aborted = sql.NullString{String: rep.Aborted.Error(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cleanup_runs
			(run_id, started_ms, finished_ms, dry_run, live_apps, scanned, candidates, deleted_json, errors_json, aborted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rep.RunID, rep.StartedAt.UnixMilli(), rep.FinishedAt.UnixMilli(), rep.DryRun,
		rep.LiveApps, rep.Scanned, len(rep.Candidates), string(deletedJSON), string(errorsJSON), aborted)
	if err != nil {
		return fmt.Errorf("failed to record cleanup run: %w", err)
	}
	return nil
}

// ListCleanupRuns returns the newest runs first.
func (s *Store) ListCleanupRuns(ctx context.Context, limit int) ([]CleanupRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_ms, finished_ms, dry_run, live_apps, scanned, candidates, deleted_json, errors_json, aborted
		FROM cleanup_runs
		ORDER BY started_ms DESC, run_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cleanup runs: %w", err)
	}
	defer rows.Close()

	runs := []CleanupRun{}
	for rows.Next() {
		var (
			r                       CleanupRun
			startedMS, finishedMS   int64
			deletedJSON, errorsJSON string
			aborted                 sql.NullString
		)
		if err := rows.Scan(&r.RunID, &startedMS, &finishedMS, &r.DryRun, &r.LiveApps, &r.Scanned,
			&r.Candidates, &deletedJSON, &errorsJSON, &aborted); err != nil {
			return nil, fmt.Errorf("failed to scan cleanup run: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedMS).UTC()
		r.FinishedAt = time.UnixMilli(finishedMS).UTC()
		r.Aborted = aborted.String
		if err := json.Unmarshal([]byte(deletedJSON), &r.Deleted); err != nil {
			return nil, fmt.Errorf("failed to decode deleted list for %s: %w", r.RunID, err)
		}
		if err := json.Unmarshal([]byte(errorsJSON), &r.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode errors for %s: %w", r.RunID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cleanup runs: %w", err)
	}
	return runs, nil
}
