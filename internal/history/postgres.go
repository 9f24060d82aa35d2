package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS relay_turns (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_relay_turns_session ON relay_turns(session_id, id);
`

// PostgresStore keeps turns in Postgres so several relay processes can
// share sessions.
type PostgresStore struct {
	pool   *pgxpool.Pool
	window int
}

// NewPostgresStore connects to dsn and creates the schema when missing.
func NewPostgresStore(ctx context.Context, dsn string, window int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create relay schema: %w", err)
	}
	return &PostgresStore{pool: pool, window: window}, nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID string, turn Turn) ([]Turn, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serializes append+trim for one session across processes.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sessionID); err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO relay_turns (session_id, role, content) VALUES ($1, $2, $3)`,
		sessionID, turn.Role, turn.Content,
	); err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}

	if s.window > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM relay_turns WHERE session_id = $1 AND id NOT IN (
				SELECT id FROM relay_turns WHERE session_id = $1 ORDER BY id DESC LIMIT $2
			)`,
			sessionID, s.window,
		); err != nil {
			return nil, fmt.Errorf("trim turns: %w", err)
		}
	}

	turns, err := pgTurns(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	return pgTurns(ctx, s.pool, sessionID)
}

func (s *PostgresStore) Sessions(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT session_id) FROM relay_turns`).Scan(&n)
	return n, err
}

func (s *PostgresStore) Sweep(ctx context.Context, idle time.Duration, keep ...string) (int, error) {
	if idle <= 0 {
		return 0, nil
	}
	if keep == nil {
		keep = []string{}
	}
	var removed int
	err := s.pool.QueryRow(ctx,
		`WITH stale AS (
			SELECT session_id FROM relay_turns
			WHERE NOT (session_id = ANY($2))
			GROUP BY session_id HAVING MAX(created_at) < $1
		), gone AS (
			DELETE FROM relay_turns WHERE session_id IN (SELECT session_id FROM stale)
		)
		SELECT COUNT(*) FROM stale`,
		time.Now().Add(-idle), keep,
	).Scan(&removed)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return removed, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func pgTurns(ctx context.Context, q pgQueryer, sessionID string) ([]Turn, error) {
	rows, err := q.Query(ctx,
		`SELECT role, content FROM relay_turns WHERE session_id = $1 ORDER BY id ASC`,
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
