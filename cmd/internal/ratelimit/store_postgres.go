package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps window state in the rate_limits table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "herald").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "herald"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// Increment performs the read-modify-write in one upsert statement; the row lock
// taken by ON CONFLICT serializes concurrent increments of the same key.
func (s *PostgresStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Entry, error) {
	if s == nil || s.pool == nil {
		return Entry{}, ErrInvalidInput
	}
	if strings.TrimSpace(key) == "" || window.Milliseconds() <= 0 {
		return Entry{}, ErrInvalidInput
	}
	table := pgIdent(s.schema, "rate_limits")

	var (
		e        = Entry{Key: key}
		windowMs int64
	)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+table+` AS rl (key, count, window_start, window_ms)
		 VALUES ($1, 1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET
		   count = CASE
		     WHEN $2 > rl.window_start + rl.window_ms * interval '1 millisecond' THEN 1
		     ELSE rl.count + 1
		   END,
		   window_start = CASE
		     WHEN $2 > rl.window_start + rl.window_ms * interval '1 millisecond' THEN $2
		     ELSE rl.window_start
		   END,
		   window_ms = CASE
		     WHEN $2 > rl.window_start + rl.window_ms * interval '1 millisecond' THEN $3
		     ELSE rl.window_ms
		   END
		 RETURNING count, window_start, window_ms`,
		key, now.UTC(), window.Milliseconds(),
	).Scan(&e.Count, &e.WindowStart, &windowMs)
	if err != nil {
		return Entry{}, err
	}
	e.Window = time.Duration(windowMs) * time.Millisecond
	return e, nil
}

// Sweep deletes rows whose window ended before now.
func (s *PostgresStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	table := pgIdent(s.schema, "rate_limits")
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+table+` WHERE window_start + window_ms * interval '1 millisecond' < $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
