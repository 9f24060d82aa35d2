package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLiteStore keeps turns in the turns table created by db.InitSchema.
type SQLiteStore struct {
	DB     *sql.DB
	Window int
}

// NewSQLiteStore wraps an open database whose schema is already initialized.
func NewSQLiteStore(database *sql.DB, window int) *SQLiteStore {
	return &SQLiteStore{DB: database, Window: window}
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, turn Turn) ([]Turn, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, content) VALUES (?, ?, ?)`,
		sessionID, turn.Role, turn.Content,
	); err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}

	if s.Window > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM turns WHERE session_id = ? AND id NOT IN (
				SELECT id FROM turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
			)`,
			sessionID, sessionID, s.Window,
		); err != nil {
			return nil, fmt.Errorf("trim turns: %w", err)
		}
	}

	turns, err := queryTurns(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return turns, nil
}

func (s *SQLiteStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	return queryTurns(ctx, s.DB, sessionID)
}

func (s *SQLiteStore) Sessions(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(DISTINCT session_id) FROM turns`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Sweep(ctx context.Context, idle time.Duration, keep ...string) (int, error) {
	if idle <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-idle).Unix()

	staleQuery := `SELECT session_id FROM turns GROUP BY session_id HAVING MAX(created_at) < ?`
	args := []any{cutoff}
	if len(keep) > 0 {
		staleQuery = `SELECT session_id FROM turns WHERE session_id NOT IN (?` +
			strings.Repeat(",?", len(keep)-1) +
			`) GROUP BY session_id HAVING MAX(created_at) < ?`
		args = args[:0]
		for _, id := range keep {
			args = append(args, id)
		}
		args = append(args, cutoff)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback()

	var stale int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (`+staleQuery+`)`, args...,
	).Scan(&stale); err != nil {
		return 0, fmt.Errorf("count stale sessions: %w", err)
	}
	if stale == 0 {
		return 0, nil
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id IN (`+staleQuery+`)`, args...,
	); err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sweep: %w", err)
	}
	return stale, nil
}

// Close is a no-op; the database handle belongs to the caller.
func (s *SQLiteStore) Close() error { return nil }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryTurns(ctx context.Context, q queryer, sessionID string) ([]Turn, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT role, content FROM turns WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
