// Package store journals touch and reset events in SQLite.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

type Kind string

const (
	KindTouch Kind = "touch"
	KindReset Kind = "reset"
)

// Event is one journal row. Position and Distance are only meaningful for
// touches. Epoch is the session's reset count; a reset event opens its epoch.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionID"`
	Kind      Kind      `json:"kind"`
	Epoch     uint64    `json:"epoch"`
	Touches   int       `json:"touches"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Distance  float64   `json:"distance"`
	CreatedAt time.Time `json:"createdAt"`
}

type Store struct {
	db   *sql.DB
	path string
}

// New opens (creating if needed) the database at path and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent frames.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return s, nil
}

func (s *Store) runMigrations() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL CHECK(kind IN ('touch', 'reset')),
			epoch INTEGER NOT NULL DEFAULT 0,
			touches INTEGER NOT NULL,
			x REAL NOT NULL DEFAULT 0,
			y REAL NOT NULL DEFAULT 0,
			distance REAL NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	// journals created before epochs existed
	var hasEpoch int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('events') WHERE name = 'epoch'`).Scan(&hasEpoch); err != nil {
		return err
	}
	if hasEpoch == 0 {
		if _, err := s.db.Exec(`ALTER TABLE events ADD COLUMN epoch INTEGER NOT NULL DEFAULT 0`); err != nil {
			return err
		}
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_session_order ON events(session_id, epoch, touches, id)`)
	return err
}

// Record appends ev. A zero CreatedAt is replaced by the current time.
func (s *Store) Record(ctx context.Context, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, kind, epoch, touches, x, y, distance, created_at_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, string(ev.Kind), int64(ev.Epoch), ev.Touches, ev.X, ev.Y, ev.Distance, ev.CreatedAt.UnixMilli(),
	)
	return errors.Wrap(err, "insert event")
}

// List returns the newest events of a session first. limit <= 0 means 100.
// Rows are ordered by session state (epoch, then touch count) rather than by
// insertion, since concurrent frames may be journaled out of order.
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, epoch, touches, x, y, distance, created_at_ms
		 FROM events WHERE session_id = ? ORDER BY epoch DESC, touches DESC, id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev    Event
			kind  string
			epoch int64
			ms    int64
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &kind, &epoch, &ev.Touches, &ev.X, &ev.Y, &ev.Distance, &ms); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		ev.Kind = Kind(kind)
		ev.Epoch = uint64(epoch)
		ev.CreatedAt = time.UnixMilli(ms)
		events = append(events, ev)
	}
	return events, errors.Wrap(rows.Err(), "iterate events")
}

func (s *Store) Close() error {
	return s.db.Close()
}
