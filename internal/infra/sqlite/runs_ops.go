package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
)

// ErrRunNotPending is returned when completing a run that already has a
// terminal status.
var ErrRunNotPending = errors.New("run is not pending")

func marshalDetails(details map[string]interface{}) (string, error) {
	if details == nil {
		return "{}", nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// StartRunWithDB opens a pending processing log entry and returns its id.
func StartRunWithDB(ctx context.Context, q DBTX, meta domain.RunMeta, now time.Time) (int64, error) {
	details, err := marshalDetails(meta.Details)
	if err != nil {
		return 0, fmt.Errorf("StartRun: marshal details: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO processing_log (operation, source_file, status, details, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		meta.Operation, meta.SourceFile, string(domain.RunPending), details, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("StartRun: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("StartRun: last insert id: %w", err)
	}
	return id, nil
}

// CompleteRunWithDB sets the counters and terminal status of a pending run.
// Details replace the ones recorded at start when non-nil.
func CompleteRunWithDB(ctx context.Context, q DBTX, id int64, c domain.RunCounters, status domain.RunStatus, details map[string]interface{}, now time.Time) error {
	query := `
		UPDATE processing_log
		SET processed = ?, inserted = ?, updated = ?, skipped = ?, errors = ?,
			status = ?, completed_at = ?`
	args := []any{c.Processed, c.Inserted, c.Updated, c.Skipped, c.Errors, string(status), formatTime(now)}
	if details != nil {
		d, err := marshalDetails(details)
		if err != nil {
			return fmt.Errorf("CompleteRun: marshal details: %w", err)
		}
		query += `, details = ?`
		args = append(args, d)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(domain.RunPending))

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("CompleteRun: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("CompleteRun: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("CompleteRun: run %d: %w", id, ErrRunNotPending)
	}
	return nil
}

// appendRun records an operation that starts and finishes inside one call.
func appendRun(ctx context.Context, q DBTX, op string, c domain.RunCounters, status domain.RunStatus, details map[string]interface{}, now time.Time) (int64, error) {
	d, err := marshalDetails(details)
	if err != nil {
		return 0, fmt.Errorf("appendRun: marshal details: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO processing_log (
			operation, processed, inserted, updated, skipped, errors,
			status, details, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op, c.Processed, c.Inserted, c.Updated, c.Skipped, c.Errors, string(status), d, formatTime(now), formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("appendRun: insert: %w", err)
	}
	return res.LastInsertId()
}

// ListRunsWithDB returns the newest processing log entries first.
func ListRunsWithDB(ctx context.Context, q DBTX, limit int) ([]*domain.RunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, operation, source_file, processed, inserted, updated, skipped, errors,
			status, details, started_at, completed_at
		FROM processing_log
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: query: %w", err)
	}
	defer rows.Close()

	var out []*domain.RunLog
	for rows.Next() {
		var (
			r         domain.RunLog
			details   string
			startedAt string
			completed sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Operation, &r.SourceFile, &r.Processed, &r.Inserted, &r.Updated,
			&r.Skipped, &r.Errors, &r.Status, &details, &startedAt, &completed); err != nil {
			return nil, fmt.Errorf("ListRuns: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
			return nil, fmt.Errorf("ListRuns: run %d details: %w", r.ID, err)
		}
		r.StartedAt = parseTime(startedAt)
		if r.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, fmt.Errorf("ListRuns: run %d completed_at: %w", r.ID, err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRuns: rows: %w", err)
	}
	return out, nil
}
