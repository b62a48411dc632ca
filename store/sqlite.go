// ABOUTME: SQLite-backed build registry and append-only per-build event log.
// ABOUTME: The event log is the source of truth for a build's report; the registry tracks status.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vakwetu/rca-mcp/core"
)

// ErrNotFound is returned when a build identifier has no registry record.
var ErrNotFound = errors.New("build not found")

// BuildRecord is one registry row: a build identifier and its lifecycle state.
type BuildRecord struct {
	Build     string
	Status    core.BuildStatus
	CreatedAt time.Time
}

// Store persists build records and their event logs in a single SQLite
// database. All methods are safe for concurrent use; SQLite serializes
// writers and WAL mode keeps readers unblocked.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS builds (
			build TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS build_events (
			build TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (build, seq)
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetOrCreate returns the record for a build, creating a PENDING one when the
// build is unknown.
func (s *Store) GetOrCreate(build string) (BuildRecord, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO builds (build, status, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(build) DO NOTHING`,
		build, string(core.StatusPending), now.Format(time.RFC3339Nano))
	if err != nil {
		return BuildRecord{}, fmt.Errorf("insert build: %w", err)
	}
	rec, ok, err := s.Get(build)
	if err != nil {
		return BuildRecord{}, err
	}
	if !ok {
		return BuildRecord{}, ErrNotFound
	}
	return rec, nil
}

// Get returns the record for a build, reporting false when it is unknown.
func (s *Store) Get(build string) (BuildRecord, bool, error) {
	var status, createdAt string
	err := s.db.QueryRow(
		"SELECT status, created_at FROM builds WHERE build = ?", build).
		Scan(&status, &createdAt)
	if err == sql.ErrNoRows {
		return BuildRecord{}, false, nil
	}
	if err != nil {
		return BuildRecord{}, false, fmt.Errorf("query build: %w", err)
	}

	st, err := core.ParseBuildStatus(status)
	if err != nil {
		return BuildRecord{}, false, fmt.Errorf("build %s: %w", build, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return BuildRecord{}, false, fmt.Errorf("build %s: parse created_at: %w", build, err)
	}
	return BuildRecord{Build: build, Status: st, CreatedAt: ts}, true, nil
}

// SetStatus transitions a build's status. Re-setting the current status is a
// no-op; transitions out of a terminal state are rejected; an unknown build
// returns ErrNotFound.
func (s *Store) SetStatus(build string, status core.BuildStatus) error {
	rec, ok, err := s.Get(build)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("set status %s: %w", build, ErrNotFound)
	}
	if rec.Status == status {
		return nil
	}
	if !rec.Status.ValidTransition(status) {
		return fmt.Errorf("invalid status transition %s -> %s for %s", rec.Status, status, build)
	}
	_, err = s.db.Exec("UPDATE builds SET status = ? WHERE build = ?", string(status), build)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// Append adds an event at the end of a build's log. The log is created on
// first append; events are never reordered or dropped.
func (s *Store) Append(build string, ev core.Event) error {
	payload, err := core.MarshalEvent(ev)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO build_events (build, seq, kind, payload, created_at)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM build_events WHERE build = ?), ?, ?, ?)`,
		build, build, string(ev.EventKind()), string(payload),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadAll returns a build's full event log in append order. An unknown build
// yields an empty slice, not an error.
func (s *Store) ReadAll(build string) ([]core.Event, error) {
	rows, err := s.db.Query(
		"SELECT payload FROM build_events WHERE build = ? ORDER BY seq ASC", build)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []core.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev, err := core.UnmarshalEvent([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode stored event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Clear removes a build's registry record and its entire event log.
// Clearing an unknown build is a no-op.
func (s *Store) Clear(build string) error {
	if _, err := s.db.Exec("DELETE FROM build_events WHERE build = ?", build); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM builds WHERE build = ?", build); err != nil {
		return fmt.Errorf("clear build: %w", err)
	}
	return nil
}

// ClearEvents drops only the event log, keeping the registry record. Used
// when a stale PENDING build is resubmitted and its partial log must not
// pollute the fresh run's replay.
func (s *Store) ClearEvents(build string) error {
	if _, err := s.db.Exec("DELETE FROM build_events WHERE build = ?", build); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}
