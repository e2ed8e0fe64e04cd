package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is one process lifetime of the perception loop.
type Run struct {
	ID                  string    `json:"run_id"`
	StartedAt           time.Time `json:"started_at"`
	StopLines           int       `json:"stop_lines"`
	StateCountThreshold int       `json:"state_count_threshold"`
	Source              string    `json:"source"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// StartRun records run. An empty ID is filled in with NewRunID.
func (db *DB) StartRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, stop_lines, state_count_threshold, source)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixNano(), run.StopLines, run.StateCountThreshold, run.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, started_at, stop_lines, state_count_threshold, source
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started int64
		)
		if err := rows.Scan(&r.ID, &started, &r.StopLines, &r.StateCountThreshold, &r.Source); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
