package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"herald/cmd/internal/dbschema"
)

// PostgresAuditLog writes audit events to the audit_log table.
type PostgresAuditLog struct {
	pool   *pgxpool.Pool
	schema string
}

// AuditOption configures PostgresAuditLog.
type AuditOption func(*PostgresAuditLog) error

// WithAuditSchema overrides the schema (default "herald").
func WithAuditSchema(schema string) AuditOption {
	return func(s *PostgresAuditLog) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return dbschema.ErrInvalidSchema
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresAuditLog constructs a PostgresAuditLog.
func NewPostgresAuditLog(pool *pgxpool.Pool, opts ...AuditOption) (*PostgresAuditLog, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	s := &PostgresAuditLog{pool: pool, schema: dbschema.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Record inserts ev.
func (s *PostgresAuditLog) Record(ctx context.Context, ev AuditEvent) error {
	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			m := string(b)
			metaVal = &m
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+pgx.Identifier{s.schema, "audit_log"}.Sanitize()+` (
			action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5::jsonb)
	`, ev.Action, ev.At, trimOrNil(ev.IP), trimOrNil(ev.UserAgent), metaVal)
	return err
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
