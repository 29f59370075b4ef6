package waitlist

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists waitlist documents in PostgreSQL.
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

const entryColumns = `id, email, status, dedupe_key, locale, created_at,
	confirmation_sent, confirmation_sent_at, confirmation_message_id,
	confirmation_error_code, confirmation_error_msg,
	confirmation_last_event, confirmation_last_event_at`

// CreateOrGet inserts a pending entry; on dedupe-key conflict it returns the existing row.
func (s *PostgresStore) CreateOrGet(ctx context.Context, in CreateRecord) (Entry, bool, error) {
	if s == nil || s.pool == nil {
		return Entry{}, false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.Email) == "" || strings.TrimSpace(in.DedupeKey) == "" {
		return Entry{}, false, ErrInvalidInput
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	table := pgIdent(s.schema, "waitlist")
	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+table+` (id, email, status, dedupe_key, locale, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (dedupe_key) DO NOTHING
		 RETURNING `+entryColumns,
		in.ID, in.Email, string(StatusPending), in.DedupeKey, nullIfEmpty(in.Locale), in.CreatedAt,
	)
	e, err := scanEntry(row)
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, err
	}

	existing, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM `+table+` WHERE dedupe_key = $1`,
		in.DedupeKey,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, ErrNotFound
		}
		return Entry{}, false, err
	}
	return existing, false, nil
}

// Get fetches an entry by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Entry, error) {
	if s == nil || s.pool == nil {
		return Entry{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Entry{}, ErrInvalidInput
	}

	table := pgIdent(s.schema, "waitlist")
	e, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM `+table+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

// MarkConfirmationSent sets comms.confirmation {sent:true, sentAt, messageId} and clears the error.
func (s *PostgresStore) MarkConfirmationSent(ctx context.Context, id, messageID string, at time.Time) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	table := pgIdent(s.schema, "waitlist")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+table+`
		    SET confirmation_sent = TRUE,
		        confirmation_sent_at = $2,
		        confirmation_message_id = $3,
		        confirmation_error_code = NULL,
		        confirmation_error_msg = NULL
		  WHERE id = $1`,
		id, at, nullIfEmpty(messageID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkConfirmationFailed sets comms.confirmation {sent:false, error} unless the
// entry is already marked sent.
func (s *PostgresStore) MarkConfirmationFailed(ctx context.Context, id string, sendErr SendError) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	table := pgIdent(s.schema, "waitlist")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+table+`
		    SET confirmation_sent = FALSE,
		        confirmation_error_code = $2,
		        confirmation_error_msg = $3
		  WHERE id = $1 AND NOT confirmation_sent`,
		id, sendErr.Code, sendErr.Msg,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// RecordDeliveryEvent stores the latest provider event on the entry owning the message id.
func (s *PostgresStore) RecordDeliveryEvent(ctx context.Context, ev DeliveryEvent) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrInvalidInput
	}
	if strings.TrimSpace(ev.MessageID) == "" || strings.TrimSpace(ev.Type) == "" {
		return false, ErrInvalidInput
	}
	table := pgIdent(s.schema, "waitlist")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+table+`
		    SET confirmation_last_event = $2,
		        confirmation_last_event_at = $3
		  WHERE confirmation_message_id = $1`,
		ev.MessageID, ev.Type, ev.At,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e         Entry
		status    string
		locale    *string
		msgID     *string
		errCode   *string
		errMsg    *string
		lastEvent *string
	)
	err := row.Scan(
		&e.ID,
		&e.Email,
		&status,
		&e.DedupeKey,
		&locale,
		&e.CreatedAt,
		&e.Comms.Confirmation.Sent,
		&e.Comms.Confirmation.SentAt,
		&msgID,
		&errCode,
		&errMsg,
		&lastEvent,
		&e.Comms.Confirmation.LastEventAt,
	)
	if err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	e.Locale = deref(locale)
	e.Comms.Confirmation.MessageID = deref(msgID)
	e.Comms.Confirmation.LastEvent = deref(lastEvent)
	if errCode != nil || errMsg != nil {
		e.Comms.Confirmation.Error = &SendError{Code: deref(errCode), Msg: deref(errMsg)}
	}
	return e, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
