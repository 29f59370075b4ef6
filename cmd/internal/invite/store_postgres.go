package invite

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRedemptionStore persists the redemption ledger in PostgreSQL.
type PostgresRedemptionStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresRedemptionStore.
type StoreOption func(*PostgresRedemptionStore) error

// WithSchema sets the DB schema used by the store (default: "herald").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresRedemptionStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresRedemptionStore constructs a PostgresRedemptionStore.
func NewPostgresRedemptionStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresRedemptionStore, error) {
	st := &PostgresRedemptionStore{pool: pool, schema: "herald"}
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

// Record inserts the redemption; a primary-key conflict means the token was already used.
func (s *PostgresRedemptionStore) Record(ctx context.Context, r Redemption) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(r.TokenID) == "" || strings.TrimSpace(r.TokenHash) == "" {
		return ErrInvalidInput
	}
	table := pgIdent(s.schema, "token_redemptions")

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+table+` (token_id, token_hash, subject_id, token_type, redeemed_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (token_id) DO NOTHING`,
		r.TokenID, r.TokenHash, r.SubjectID, string(r.Type), r.RedeemedAt, r.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRedeemed
	}
	return nil
}

// Sweep deletes ledger rows for tokens that expired before the cutoff.
func (s *PostgresRedemptionStore) Sweep(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	table := pgIdent(s.schema, "token_redemptions")
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
