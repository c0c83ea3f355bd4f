package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"datachat/internal/session"
)

// SessionStore keeps session state as JSON rows in session_states.
type SessionStore struct {
	db     *sql.DB
	driver string
}

// NewSessionStore wraps an already migrated database.
func NewSessionStore(db *sql.DB, driver string) *SessionStore {
	return &SessionStore{db: db, driver: Normalize(driver)}
}

func (s *SessionStore) Load(ctx context.Context, id string) (*session.State, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM session_states WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return session.Unmarshal([]byte(data))
}

func (s *SessionStore) Save(ctx context.Context, state *session.State) error {
	data, err := session.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	var stmt string
	switch s.driver {
	case "mysql":
		stmt = `INSERT INTO session_states (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)`
	default:
		stmt = `INSERT INTO session_states (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	}
	if _, err := s.db.ExecContext(ctx, stmt, state.ID, string(data), state.CreatedAt.UTC(), state.UpdatedAt.UnixNano()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_states WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM session_states ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SessionStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_states WHERE updated_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
