package db

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/stopline/internal/monitoring"
	"github.com/banshee-data/stopline/internal/stopline"
)

// SignalRecord is one stored change of the published signal.
type SignalRecord struct {
	ID             int64               `json:"id"`
	RunID          string              `json:"run_id"`
	Tick           uint64              `json:"tick"`
	StopIndex      int                 `json:"stop_index"`
	CarIndex       int                 `json:"car_index"`
	LightIndex     int                 `json:"light_index"`
	RawColor       stopline.LightColor `json:"raw_color"`
	ConfirmedColor stopline.LightColor `json:"confirmed_color"`
	Confirmed      bool                `json:"confirmed"`
	RecordedAt     time.Time           `json:"recorded_at"`
}

// AssociationRecord is one stored light association.
type AssociationRecord struct {
	RunID         string    `json:"run_id"`
	LightKey      string    `json:"light_key"`
	X             float64   `json:"x"`
	Y             float64   `json:"y"`
	StopLine      int       `json:"stop_line"`
	PathIndex     int       `json:"path_index"`
	FirstSeenTick uint64    `json:"first_seen_tick"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Recorder writes the output of one run to the database. It implements
// stopline.Publisher and stopline.AssociationObserver and is called from
// the loop's goroutine. Only signals that differ from the previous one in
// stop index, light index or confirmed color are stored; per-frame car
// movement alone is not.
type Recorder struct {
	db    *DB
	runID string

	last    stopline.Signal
	hasLast bool
	failLog monitoring.Throttle
}

// NewRecorder returns a Recorder writing rows tagged with runID.
func NewRecorder(db *DB, runID string) *Recorder {
	return &Recorder{db: db, runID: runID, failLog: monitoring.Throttle{Every: 100}}
}

func (r *Recorder) RunID() string { return r.runID }

func (r *Recorder) Publish(sig stopline.Signal) {
	if r.hasLast && !changed(r.last, sig) {
		return
	}
	if err := r.db.RecordSignal(context.Background(), r.runID, sig); err != nil {
		r.failLog.Logf("[db] %v", err)
		return
	}
	r.last = sig
	r.hasLast = true
}

func (r *Recorder) Associated(a stopline.Association) {
	if err := r.db.RecordAssociation(context.Background(), r.runID, a); err != nil {
		r.failLog.Logf("[db] %v", err)
	}
}

func changed(prev, next stopline.Signal) bool {
	return prev.StopIndex != next.StopIndex ||
		prev.LightIndex != next.LightIndex ||
		prev.ConfirmedColor != next.ConfirmedColor ||
		prev.Confirmed != next.Confirmed
}

// RecordSignal stores sig unconditionally.
func (db *DB) RecordSignal(ctx context.Context, runID string, sig stopline.Signal) error {
	recordedAt := sig.Time
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO signals (
			run_id, tick, stop_index, car_index, light_index,
			raw_color, confirmed_color, confirmed, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(sig.Tick), sig.StopIndex, sig.CarIndex, sig.LightIndex,
		int(sig.RawColor), int(sig.ConfirmedColor), sig.Confirmed, recordedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record signal at tick %d: %w", sig.Tick, err)
	}
	return nil
}

// RecordAssociation stores a. A light re-associated after a path
// replacement overwrites its earlier row.
func (db *DB) RecordAssociation(ctx context.Context, runID string, a stopline.Association) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO associations (
			run_id, light_key, x, y, stop_line, path_index, first_seen_tick, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, light_key) DO UPDATE SET
			x = excluded.x,
			y = excluded.y,
			stop_line = excluded.stop_line,
			path_index = excluded.path_index,
			first_seen_tick = excluded.first_seen_tick,
			recorded_at = excluded.recorded_at`,
		runID, a.Key.String(), a.Position.X, a.Position.Y, a.StopLine, a.PathIndex,
		int64(a.FirstSeenTick), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record association %s: %w", a.Key, err)
	}
	return nil
}

// Signals returns the most recent stored signals, newest first. An empty
// runID returns rows from every run.
func (db *DB) Signals(ctx context.Context, runID string, limit int) ([]SignalRecord, error) {
	query := `SELECT signal_id, run_id, tick, stop_index, car_index, light_index,
			raw_color, confirmed_color, confirmed, recorded_at
		FROM signals`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY signal_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var (
			rec        SignalRecord
			tick       int64
			raw, conf  int
			recordedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &tick, &rec.StopIndex, &rec.CarIndex, &rec.LightIndex,
			&raw, &conf, &rec.Confirmed, &recordedAt); err != nil {
			return nil, err
		}
		rec.Tick = uint64(tick)
		rec.RawColor = stopline.LightColor(raw)
		rec.ConfirmedColor = stopline.LightColor(conf)
		rec.RecordedAt = time.Unix(0, recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Associations returns the stored associations of runID in the order they
// were first seen.
func (db *DB) Associations(ctx context.Context, runID string) ([]AssociationRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, light_key, x, y, stop_line, path_index, first_seen_tick, recorded_at
		 FROM associations WHERE run_id = ?
		 ORDER BY first_seen_tick, recorded_at, light_key`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AssociationRecord
	for rows.Next() {
		var (
			rec        AssociationRecord
			tick       int64
			recordedAt int64
		)
		if err := rows.Scan(&rec.RunID, &rec.LightKey, &rec.X, &rec.Y, &rec.StopLine, &rec.PathIndex,
			&tick, &recordedAt); err != nil {
			return nil, err
		}
		rec.FirstSeenTick = uint64(tick)
		rec.RecordedAt = time.Unix(0, recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
