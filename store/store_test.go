package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, s.Record(ctx, Event{SessionID: "a", Kind: KindTouch, Touches: 1, X: 10, Y: 20, Distance: 18.5, CreatedAt: at}))
	require.NoError(t, s.Record(ctx, Event{SessionID: "a", Kind: KindTouch, Touches: 2, X: 40, Y: 20, Distance: 30}))
	require.NoError(t, s.Record(ctx, Event{SessionID: "b", Kind: KindTouch, Touches: 1}))
	require.NoError(t, s.Record(ctx, Event{SessionID: "a", Kind: KindReset, Epoch: 1}))

	events, err := s.List(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, KindReset, events[0].Kind)
	assert.Equal(t, uint64(1), events[0].Epoch)
	assert.Equal(t, 2, events[1].Touches)
	assert.Equal(t, Event{ID: events[2].ID, SessionID: "a", Kind: KindTouch, Touches: 1, X: 10, Y: 20, Distance: 18.5, CreatedAt: at}, events[2])
	assert.False(t, events[1].CreatedAt.IsZero())

	limited, err := s.List(ctx, "a", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.List(ctx, "missing", 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestStore_ListOrdersBySessionState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Written in the order racing frames might reach the journal.
	for _, ev := range []Event{
		{Kind: KindTouch, Epoch: 0, Touches: 2},
		{Kind: KindTouch, Epoch: 0, Touches: 1},
		{Kind: KindTouch, Epoch: 1, Touches: 1},
		{Kind: KindReset, Epoch: 1},
		{Kind: KindTouch, Epoch: 0, Touches: 3},
		{Kind: KindTouch, Epoch: 1, Touches: 2},
	} {
		ev.SessionID = "a"
		require.NoError(t, s.Record(ctx, ev))
	}

	events, err := s.List(ctx, "a", 0)
	require.NoError(t, err)
	type row struct {
		Kind    Kind
		Epoch   uint64
		Touches int
	}
	got := make([]row, 0, len(events))
	for _, ev := range events {
		got = append(got, row{ev.Kind, ev.Epoch, ev.Touches})
	}
	assert.Equal(t, []row{
		{KindTouch, 1, 2},
		{KindTouch, 1, 1},
		{KindReset, 1, 0},
		{KindTouch, 0, 3},
		{KindTouch, 0, 2},
		{KindTouch, 0, 1},
	}, got)
}

func TestStore_MigratesJournalWithoutEpoch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK(kind IN ('touch', 'reset')),
		touches INTEGER NOT NULL,
		x REAL NOT NULL DEFAULT 0,
		y REAL NOT NULL DEFAULT 0,
		distance REAL NOT NULL DEFAULT 0,
		created_at_ms INTEGER NOT NULL
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO events (session_id, kind, touches, created_at_ms) VALUES ('a', 'touch', 1, 0)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := New(path)
	require.NoError(t, err)
	defer s.Close()
	events, err := s.List(context.Background(), "a", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(0), events[0].Epoch)
}

func TestStore_RejectsUnknownKind(t *testing.T) {
	s := newTestStore(t)
	err := s.Record(context.Background(), Event{SessionID: "a", Kind: "kick"})
	assert.Error(t, err)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), Event{SessionID: "a", Kind: KindTouch, Touches: 1}))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	events, err := s.List(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
