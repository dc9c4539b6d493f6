// Package audit persists a local history of executions for the `runcage
// history` CLI command. It is purely an operator convenience layered on
// top of the engine — core request handling in internal/executor never
// reads from or depends on it, matching the request model's requirement
// that no execution's outcome depend on another's.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/runcage/runcage/internal/model"
)

// Store is a sqlite-backed log of responses, one row per execution_id.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	execution_id TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	command      TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	metrics_cbor BLOB
);
`

// Record stores a response in the history database, replacing any earlier
// row with the same execution_id. The metrics blob is
// CBOR-encoded rather than JSON — the history DB is a compact local trace,
// not a wire format, and CBOR avoids re-parsing JSON for a field nothing
// else in the engine reads back out in JSON form.
func (s *Store) Record(ctx context.Context, command []string, resp model.Response) error {
	var metricsBlob []byte
	if resp.Metrics != nil {
		b, err := cbor.Marshal(resp.Metrics)
		if err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
		metricsBlob = b
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO executions (execution_id, status, command, started_at, completed_at, metrics_cbor)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		resp.ExecutionID, string(resp.Status), joinCommand(command),
		resp.Timestamps.Started.Format(time.RFC3339Nano),
		resp.Timestamps.Completed.Format(time.RFC3339Nano),
		metricsBlob,
	)
	return err
}

// Entry is one row of recorded history, with metrics decoded back out for display.
type Entry struct {
	ExecutionID string
	Status      string
	Command     string
	Started     time.Time
	Completed   time.Time
	Metrics     *model.Metrics
}

// Recent returns the most recent n executions, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, status, command, started_at, completed_at, metrics_cbor
		 FROM executions ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started, completed string
		var metricsBlob []byte
		if err := rows.Scan(&e.ExecutionID, &e.Status, &e.Command, &started, &completed, &metricsBlob); err != nil {
			return nil, err
		}
		e.Started, _ = time.Parse(time.RFC3339Nano, started)
		e.Completed, _ = time.Parse(time.RFC3339Nano, completed)
		if len(metricsBlob) > 0 {
			var m model.Metrics
			if err := cbor.Unmarshal(metricsBlob, &m); err == nil {
				e.Metrics = &m
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func joinCommand(command []string) string {
	out := ""
	for i, c := range command {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}
