// Package db is the append-only results sink for simulation output.
//
// Every vehicle state record the driver decides to log lands in a single
// results table, grouped under a run id. Appends are individually durable:
// each one commits its own implicit transaction with synchronous=FULL, so a
// crash loses at most the in-flight record. Nothing in the aggregation core
// reads this data back; it exists for downstream analysis.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the results database at path.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// One writer, durable per append.
	if _, err := db.Exec(`PRAGMA synchronous = FULL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			started_at        TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS results (
			run_id            TEXT,
			timestamp         TIMESTAMP,
			vehicle_id        BIGINT,
			segment_id        BIGINT,
			start_offset      DOUBLE,
			speed             DOUBLE,
			status            TEXT,
			active            INTEGER,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
		CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id, timestamp);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

// Result is one logged vehicle state record.
type Result struct {
	Timestamp    time.Time
	VehicleID    int
	SegmentID    int64
	StartOffsetM float64
	SpeedKph     float64
	Status       string
	Active       bool
}

// BeginRun registers a new simulation run and returns its id.
func (db *DB) BeginRun(startedAt time.Time) (string, error) {
	runID := uuid.NewString()
	_, err := db.Exec(`INSERT INTO runs (run_id, started_at) VALUES (?, ?)`,
		runID, startedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("failed to register run: %w", err)
	}
	return runID, nil
}

// AppendResult durably appends one record to the run's result stream.
func (db *DB) AppendResult(runID string, r Result) error {
	active := 0
	if r.Active {
		active = 1
	}
	_, err := db.Exec(`
		INSERT INTO results (run_id, timestamp, vehicle_id, segment_id, start_offset, speed, status, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Timestamp.UTC(), r.VehicleID, r.SegmentID, r.StartOffsetM, r.SpeedKph, r.Status, active)
	if err != nil {
		return fmt.Errorf("failed to append result: %w", err)
	}
	return nil
}

// CountResults returns the number of records logged under a run.
func (db *DB) CountResults(runID string) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM results WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// ListResults returns a run's records in append order.
func (db *DB) ListResults(runID string) ([]Result, error) {
	rows, err := db.Query(`
		SELECT timestamp, vehicle_id, segment_id, start_offset, speed, status, active
		FROM results WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var active int
		if err := rows.Scan(&r.Timestamp, &r.VehicleID, &r.SegmentID, &r.StartOffsetM, &r.SpeedKph, &r.Status, &active); err != nil {
			return nil, err
		}
		r.Active = active != 0
		results = append(results, r)
	}
	return results, rows.Err()
}
