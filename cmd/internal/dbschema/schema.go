// Package dbschema renders the Herald PostgreSQL schema for a target schema name.
//
// The same DDL backs `herald migrate` and the per-test schemas used by integration tests.
package dbschema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the schema used when none is configured.
const DefaultSchema = "herald"

// ErrInvalidSchema is returned for blank schema names.
var ErrInvalidSchema = errors.New("invalid schema name")

// SQL returns idempotent DDL creating every Herald table inside schema.
func SQL(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return "", ErrInvalidSchema
	}
	ident := func(table string) string { return pgx.Identifier{schema, table}.Sanitize() }

	waitlist := ident("waitlist")
	rateLimits := ident("rate_limits")
	dlq := ident("dead_letter_queue")
	archive := ident("dead_letter_archive")
	redemptions := ident("token_redemptions")
	audit := ident("audit_log")

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  dedupe_key TEXT NOT NULL,
  locale TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  confirmation_sent BOOLEAN NOT NULL DEFAULT FALSE,
  confirmation_sent_at TIMESTAMPTZ NULL,
  confirmation_message_id TEXT NULL,
  confirmation_error_code TEXT NULL,
  confirmation_error_msg TEXT NULL,
  confirmation_last_event TEXT NULL,
  confirmation_last_event_at TIMESTAMPTZ NULL,
  CONSTRAINT chk_waitlist_dedupe_key_len CHECK (char_length(dedupe_key) = 64)
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_waitlist_dedupe_key ON %s (dedupe_key);
CREATE INDEX IF NOT EXISTS ix_waitlist_confirmation_message_id ON %s (confirmation_message_id);

CREATE TABLE IF NOT EXISTS %s (
  key TEXT PRIMARY KEY,
  count BIGINT NOT NULL,
  window_start TIMESTAMPTZ NOT NULL,
  window_ms BIGINT NOT NULL,
  CONSTRAINT chk_rate_limits_count CHECK (count >= 1),
  CONSTRAINT chk_rate_limits_window CHECK (window_ms > 0)
);

CREATE INDEX IF NOT EXISTS ix_rate_limits_window_start ON %s (window_start);

CREATE TABLE IF NOT EXISTS %s (
  waitlist_id TEXT PRIMARY KEY,
  attempts INT NOT NULL DEFAULT 1,
  max_attempts INT NOT NULL,
  last_error_code TEXT NOT NULL DEFAULT '',
  last_error_msg TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT chk_dlq_attempts CHECK (attempts >= 1),
  CONSTRAINT chk_dlq_max_attempts CHECK (max_attempts >= 1)
);

CREATE TABLE IF NOT EXISTS %s (
  waitlist_id TEXT NOT NULL,
  attempts INT NOT NULL,
  max_attempts INT NOT NULL,
  last_error_code TEXT NOT NULL DEFAULT '',
  last_error_msg TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  archived_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS ix_dead_letter_archive_waitlist_id ON %s (waitlist_id);

CREATE TABLE IF NOT EXISTS %s (
  token_id TEXT PRIMARY KEY,
  token_hash TEXT NOT NULL,
  subject_id TEXT NOT NULL,
  token_type TEXT NOT NULL,
  redeemed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  expires_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT chk_token_redemptions_hash_len CHECK (char_length(token_hash) = 64)
);

CREATE INDEX IF NOT EXISTS ix_token_redemptions_expires_at ON %s (expires_at);

CREATE TABLE IF NOT EXISTS %s (
  id BIGSERIAL PRIMARY KEY,
  action TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  ip TEXT NULL,
  user_agent TEXT NULL,
  meta JSONB NULL
);

CREATE INDEX IF NOT EXISTS ix_audit_log_action_created_at ON %s (action, created_at);
`,
		pgx.Identifier{schema}.Sanitize(),
		waitlist, waitlist, waitlist,
		rateLimits, rateLimits,
		dlq,
		archive, archive,
		redemptions, redemptions,
		audit, audit,
	), nil
}

// Apply executes SQL(schema) against pool.
func Apply(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return errors.New("nil pool")
	}
	ddl, err := SQL(schema)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, ddl)
	return err
}
