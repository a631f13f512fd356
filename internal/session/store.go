package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Brownie44l1/fer-lens/internal/domain"
)

// Store persists sessions and their events in SQLite.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  start_at INTEGER NOT NULL,
  end_at INTEGER
);

CREATE TABLE IF NOT EXISTS session_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  type TEXT NOT NULL,
  emotion TEXT NOT NULL DEFAULT '',
  detail TEXT NOT NULL DEFAULT '',
  ts INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, ts, id);
`)
	return err
}

func (s *Store) Create(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(id, user_id, start_at, end_at) VALUES(?, ?, ?, NULL);
`, sess.ID, sess.UserID, sess.StartAt.UnixMilli())
	return err
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM sessions WHERE id=?;", id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendEvents writes events in one transaction. It reports
// domain.ErrSessionNotFound when id is unknown.
func (s *Store) AppendEvents(ctx context.Context, id string, events []domain.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM sessions WHERE id=?;", id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO session_events(session_id, type, emotion, detail, ts) VALUES(?, ?, ?, ?, ?);
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		detail, err := encodeDetail(ev.Detail)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, id, ev.Type, ev.Emotion, detail, ev.At.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) SetEnd(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE sessions SET end_at=? WHERE id=?;", at.UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Get loads a session with its events in insertion order and the per-emotion counts.
func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, user_id, start_at, end_at FROM sessions WHERE id=?;", id)

	var (
		sess    domain.Session
		startMs int64
		endMs   sql.NullInt64
	)
	err := row.Scan(&sess.ID, &sess.UserID, &startMs, &endMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.StartAt = time.UnixMilli(startMs)
	if endMs.Valid {
		end := time.UnixMilli(endMs.Int64)
		sess.EndAt = &end
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT type, emotion, detail, ts FROM session_events WHERE session_id=? ORDER BY id ASC;
`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sess.Events = []domain.Event{}
	sess.EmotionCounts = map[string]int{}
	for rows.Next() {
		var (
			ev     domain.Event
			detail string
			tsMs   int64
		)
		if err := rows.Scan(&ev.Type, &ev.Emotion, &detail, &tsMs); err != nil {
			return nil, err
		}
		ev.At = time.UnixMilli(tsMs)
		if detail != "" {
			if err := json.Unmarshal([]byte(detail), &ev.Detail); err != nil {
				return nil, fmt.Errorf("decode event detail: %w", err)
			}
		}
		if ev.Type == domain.EventTypeEmotion {
			sess.EmotionCounts[ev.Emotion]++
		}
		sess.Events = append(sess.Events, ev)
	}
	return &sess, rows.Err()
}

func encodeDetail(detail any) (string, error) {
	if detail == nil {
		return "", nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return "", fmt.Errorf("encode event detail: %w", err)
	}
	return string(b), nil
}
