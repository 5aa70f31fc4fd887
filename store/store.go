// Package store persists detection events in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"skytracker/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id INTEGER PRIMARY KEY AUTOINCREMENT,
	object_id INTEGER NOT NULL,
	label TEXT NOT NULL,
	confidence REAL NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER NOT NULL,
	start_frame INTEGER NOT NULL,
	end_frame INTEGER NOT NULL,
	avg_x REAL NOT NULL,
	avg_y REAL NOT NULL,
	avg_speed REAL NOT NULL,
	trajectory_length INTEGER NOT NULL,
	clip_path TEXT
);
CREATE INDEX IF NOT EXISTS events_label ON events (label, start_time);
`

const selectEvents = `
SELECT event_id, object_id, label, confidence, start_time, end_time,
       start_frame, end_frame, avg_x, avg_y, avg_speed, trajectory_length, clip_path
FROM events`

// Store is the SQLite event store.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Stats summarizes the stored events.
type Stats struct {
	Total   int                 `json:"total"`
	ByLabel map[types.Label]int `json:"by_label"`
}

// Open opens or creates the database at path, creating its directory.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create db dir: %v", types.ErrPersistence, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", types.ErrPersistence, path, err)
	}
	// One connection serializes writers and keeps the pragmas in effect.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: init %s: %v", types.ErrPersistence, path, err)
		}
	}

	log.Info().Str("path", path).Msg("event store opened")
	return &Store{db: db, log: log}, nil
}

// Append inserts ev and returns its id.
func (s *Store) Append(ctx context.Context, ev types.DetectionEvent) (int64, error) {
	var clip sql.NullString
	if ev.ClipPath != "" {
		clip = sql.NullString{String: ev.ClipPath, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (object_id, label, confidence, start_time, end_time,
			start_frame, end_frame, avg_x, avg_y, avg_speed, trajectory_length, clip_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ObjectID, string(ev.Label), ev.Confidence, ev.StartTime.UnixNano(), ev.EndTime.UnixNano(),
		int64(ev.StartFrame), int64(ev.EndFrame), ev.AvgX, ev.AvgY, ev.AvgSpeed, ev.TrajectoryLength, clip)
	if err != nil {
		return 0, fmt.Errorf("%w: insert event: %v", types.ErrPersistence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: insert event: %v", types.ErrPersistence, err)
	}
	s.log.Info().Int64("event_id", id).Int("object_id", ev.ObjectID).Str("label", string(ev.Label)).Msg("event logged")
	return id, nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]types.DetectionEvent, error) {
	return s.query(ctx, selectEvents+" ORDER BY start_time DESC, event_id DESC LIMIT ?", limit)
}

// ByLabel returns up to limit events with the given label, newest first.
func (s *Store) ByLabel(ctx context.Context, label types.Label, limit int) ([]types.DetectionEvent, error) {
	return s.query(ctx, selectEvents+" WHERE label = ? ORDER BY start_time DESC, event_id DESC LIMIT ?", string(label), limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]types.DetectionEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", types.ErrPersistence, err)
	}
	defer rows.Close()

	var events []types.DetectionEvent
	for rows.Next() {
		var (
			ev                   types.DetectionEvent
			label                string
			start, end           int64
			startFrame, endFrame int64
			clip                 sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.ObjectID, &label, &ev.Confidence, &start, &end,
			&startFrame, &endFrame, &ev.AvgX, &ev.AvgY, &ev.AvgSpeed, &ev.TrajectoryLength, &clip); err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", types.ErrPersistence, err)
		}
		ev.Label = types.Label(label)
		ev.StartTime = time.Unix(0, start)
		ev.EndTime = time.Unix(0, end)
		ev.StartFrame, ev.EndFrame = uint64(startFrame), uint64(endFrame)
		ev.ClipPath = clip.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read events: %v", types.ErrPersistence, err)
	}
	return events, nil
}

// Clear deletes the events with the given ids, or every event when no ids
// are given. It returns the clip paths the deleted events referenced.
func (s *Store) Clear(ctx context.Context, ids ...int64) ([]string, error) {
	where, args := "", []any(nil)
	if len(ids) > 0 {
		where = " AND event_id IN (" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin clear: %v", types.ErrPersistence, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT clip_path FROM events WHERE clip_path IS NOT NULL"+where, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: select clips: %v", types.ErrPersistence, err)
	}
	var clips []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan clip: %v", types.ErrPersistence, err)
		}
		clips = append(clips, p)
	}
	rows.Close()

	res, err := tx.ExecContext(ctx, "DELETE FROM events WHERE 1 = 1"+where, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: delete events: %v", types.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit clear: %v", types.ErrPersistence, err)
	}
	n, _ := res.RowsAffected()
	s.log.Info().Int64("count", n).Msg("events cleared")
	return clips, nil
}

// Stats counts the stored events.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT label, COUNT(*) FROM events GROUP BY label")
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %v", types.ErrPersistence, err)
	}
	defer rows.Close()

	st := Stats{ByLabel: make(map[types.Label]int)}
	for rows.Next() {
		var (
			label string
			n     int
		)
		if err := rows.Scan(&label, &n); err != nil {
			return Stats{}, fmt.Errorf("%w: stats: %v", types.ErrPersistence, err)
		}
		st.ByLabel[types.Label(label)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %v", types.ErrPersistence, err)
	}
	return st, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
