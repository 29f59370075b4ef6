package waitlist

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"herald/cmd/internal/ids"
	"herald/cmd/security/secure"
)

// Service creates waitlist entries keyed by the normalized-email dedupe key.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs a Service over store.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}, nil
}

// JoinInput is the raw request payload for Join.
type JoinInput struct {
	Email  string
	Locale string
}

// Join returns the entry for the normalized email, creating a pending one if needed.
func (s *Service) Join(ctx context.Context, in JoinInput) (Entry, bool, error) {
	if s == nil || s.store == nil {
		return Entry{}, false, ErrInvalidInput
	}

	email, err := NormalizeAddress(in.Email)
	if err != nil {
		return Entry{}, false, err
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Entry{}, false, err
	}

	return s.store.CreateOrGet(ctx, CreateRecord{
		ID:        id,
		Email:     email,
		DedupeKey: secure.DedupeKey(email),
		Locale:    strings.TrimSpace(in.Locale),
		CreatedAt: now,
	})
}

// NormalizeAddress validates raw as a bare mailbox and returns its normalized form.
func NormalizeAddress(raw string) (string, error) {
	email := secure.NormalizeEmail(raw)
	if email == "" || len(email) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return email, nil
}
