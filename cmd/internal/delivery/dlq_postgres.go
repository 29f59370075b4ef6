package delivery

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"herald/cmd/internal/waitlist"
)

// PostgresDeadLetterStore persists the queue in dead_letter_queue and
// dropped entries in dead_letter_archive.
type PostgresDeadLetterStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresDeadLetterStore.
type StoreOption func(*PostgresDeadLetterStore) error

// WithSchema sets the DB schema used by the store (default: "herald").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresDeadLetterStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresDeadLetterStore constructs a PostgresDeadLetterStore.
func NewPostgresDeadLetterStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresDeadLetterStore, error) {
	st := &PostgresDeadLetterStore{pool: pool, schema: "herald"}
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

const dlqColumns = `waitlist_id, attempts, max_attempts, last_error_code, last_error_msg, created_at, updated_at`

// RecordFailure implements DeadLetterStore with a single upsert.
func (s *PostgresDeadLetterStore) RecordFailure(ctx context.Context, waitlistID string, maxAttempts int, sendErr waitlist.SendError, now time.Time) (DeadLetterEntry, error) {
	if s == nil || s.pool == nil {
		return DeadLetterEntry{}, ErrInvalidInput
	}
	if strings.TrimSpace(waitlistID) == "" || maxAttempts <= 0 {
		return DeadLetterEntry{}, ErrInvalidInput
	}
	table := pgIdent(s.schema, "dead_letter_queue")

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+table+` AS q (waitlist_id, attempts, max_attempts, last_error_code, last_error_msg, created_at, updated_at)
		 VALUES ($1, 1, $2, $3, $4, $5, $5)
		 ON CONFLICT (waitlist_id) DO UPDATE SET
		   attempts = q.attempts + 1,
		   last_error_code = EXCLUDED.last_error_code,
		   last_error_msg = EXCLUDED.last_error_msg,
		   updated_at = EXCLUDED.updated_at
		 RETURNING `+dlqColumns,
		waitlistID, maxAttempts, sendErr.Code, sendErr.Msg, now.UTC(),
	)
	return scanDeadLetter(row)
}

// List returns up to limit entries, oldest update first. limit <= 0 means all.
func (s *PostgresDeadLetterStore) List(ctx context.Context, limit int) ([]DeadLetterEntry, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	table := pgIdent(s.schema, "dead_letter_queue")

	query := `SELECT ` + dlqColumns + ` FROM ` + table + ` ORDER BY updated_at, waitlist_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetterEntry
	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes the entry for waitlistID.
func (s *PostgresDeadLetterStore) Delete(ctx context.Context, waitlistID string) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	table := pgIdent(s.schema, "dead_letter_queue")
	_, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE waitlist_id = $1`, waitlistID)
	return err
}

// Drop archives and deletes e in one transaction.
func (s *PostgresDeadLetterStore) Drop(ctx context.Context, e DeadLetterEntry, reason DropReason, now time.Time) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	queue := pgIdent(s.schema, "dead_letter_queue")
	archive := pgIdent(s.schema, "dead_letter_archive")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+archive+` (waitlist_id, attempts, max_attempts, last_error_code, last_error_msg, reason, created_at, archived_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.WaitlistID, e.Attempts, e.MaxAttempts, e.LastError.Code, e.LastError.Msg, string(reason), e.CreatedAt, now.UTC(),
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+queue+` WHERE waitlist_id = $1`, e.WaitlistID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanDeadLetter(row pgx.Row) (DeadLetterEntry, error) {
	var e DeadLetterEntry
	err := row.Scan(&e.WaitlistID, &e.Attempts, &e.MaxAttempts, &e.LastError.Code, &e.LastError.Msg, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
