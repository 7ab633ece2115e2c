package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Audit results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// AuditEntry is one audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"ts"`
	TraceID   string         `json:"traceId,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Action    string         `json:"action"`
	AppID     string         `json:"appId,omitempty"`
	Result    string         `json:"result"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// WriteAudit appends an audit entry. Timestamp is set when zero.
func (s *Store) WriteAudit(ctx context.Context, e AuditEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var payload sql.NullString
	if e.Payload != nil {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal audit payload: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts_ms, trace_id, actor, action, app_id, result, payload_json, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ts.UnixMilli(), e.TraceID, e.Actor, e.Action, nullString(e.AppID), e.Result, payload, nullString(e.Error))
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// AuditFilter narrows GetAuditLog.
type AuditFilter struct {
	// AppID restricts to one app when set.
	AppID string
	// Limit defaults to 100 and is capped at 1000.
	Limit int
}

// GetAuditLog returns the newest entries first.
func (s *Store) GetAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts_ms, trace_id, actor, action, app_id, result, payload_json, error_message
		FROM audit_log
		WHERE (? = '' OR app_id = ?)
		ORDER BY id DESC
		LIMIT ?
	`, f.AppID, f.AppID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var (
			e                      AuditEntry
			tsMS                   int64
			appID, payload, errMsg sql.NullString
		)
		if err := rows.Scan(&e.ID, &tsMS, &e.TraceID, &e.Actor, &e.Action, &appID, &e.Result, &payload, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(tsMS).UTC()
		e.AppID = appID.String
		e.Error = errMsg.String
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
