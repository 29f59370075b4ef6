// Package invite issues and validates signed, time-bound invitation and
// password-reset tokens, and optionally records single-use redemptions.
//
// Token wire format: base64url(JSON claims) "." base64url(HMAC-SHA256(payload)).
// The MAC key is derived from the configured secret with HKDF so the raw secret
// is never used directly as a MAC key.
package invite

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"herald/cmd/internal/ids"
	"herald/cmd/security/secure"
)

const (
	// MinSecretBytes is the minimum length of the signing secret.
	MinSecretBytes = 32

	hkdfInfo   = "herald/token-signing/v1"
	macKeySize = 32
)

// IssueInput describes a token to mint.
type IssueInput struct {
	SubjectID string
	Email     string
	TTLHours  int
	Now       time.Time
}

// Issued is a freshly minted token plus its link.
type Issued struct {
	ID        string
	Token     string
	URL       string
	ExpiresAt time.Time
}

// Service mints and validates tokens.
type Service struct {
	key         []byte
	baseURL     string
	redemptions RedemptionStore
	now         func() time.Time
}

// Option configures the Service.
type Option func(*Service) error

// WithBaseURL sets the public base URL used to build token links.
func WithBaseURL(raw string) Option {
	return func(s *Service) error {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: base url %q", ErrInvalidInput, raw)
		}
		s.baseURL = strings.TrimRight(raw, "/")
		return nil
	}
}

// WithRedemptionStore enables single-use redemption tracking.
func WithRedemptionStore(st RedemptionStore) Option {
	return func(s *Service) error {
		s.redemptions = st
		return nil
	}
}

// WithClock overrides the time source used when callers pass a zero time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// NewService derives the MAC key from secret and applies opts.
func NewService(secret string, opts ...Option) (*Service, error) {
	raw, err := secure.Key(secret, MinSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningKey, err)
	}
	key := make([]byte, macKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("%w: derive: %w", ErrSigningKey, err)
	}

	s := &Service{key: key, now: func() time.Time { return time.Now().UTC() }}
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

// CreateInviteToken mints an invitation token linking to <base>/invite/<token>.
func (s *Service) CreateInviteToken(in IssueInput) (Issued, error) {
	return s.issue(TypeInvite, "invite", in)
}

// CreatePasswordResetToken mints a password-reset token linking to <base>/reset-password/<token>.
func (s *Service) CreatePasswordResetToken(in IssueInput) (Issued, error) {
	return s.issue(TypePasswordReset, "reset-password", in)
}

func (s *Service) issue(typ Type, pathSegment string, in IssueInput) (Issued, error) {
	if s == nil || len(s.key) == 0 {
		return Issued{}, ErrSigningKey
	}
	subject := strings.TrimSpace(in.SubjectID)
	email := secure.NormalizeEmail(in.Email)
	if subject == "" || !strings.Contains(email, "@") || in.TTLHours <= 0 {
		return Issued{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = s.now()
	}
	now = now.UTC().Truncate(time.Second)
	expiresAt := now.Add(time.Duration(in.TTLHours) * time.Hour)

	id, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}
	claims := Claims{
		ID:        id,
		SubjectID: subject,
		Email:     email,
		Type:      typ,
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}
	tok, err := s.sign(claims)
	if err != nil {
		return Issued{}, err
	}

	out := Issued{ID: id, Token: tok, ExpiresAt: expiresAt}
	if s.baseURL != "" {
		out.URL = s.baseURL + "/" + pathSegment + "/" + tok
	}
	return out, nil
}

func (s *Service) sign(c Claims) (string, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	mac := secure.HMACSHA256([]byte(payload), s.key)
	return payload + "." + base64.RawURLEncoding.EncodeToString(mac), nil
}

// ValidateMagicLinkToken checks signature, then expiry, then structure.
// A zero now means the service clock.
func (s *Service) ValidateMagicLinkToken(token string, now time.Time) (Claims, error) {
	if s == nil || len(s.key) == 0 {
		return Claims{}, ErrSigningKey
	}
	if now.IsZero() {
		now = s.now()
	}

	payload, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || payload == "" || sig == "" || strings.Contains(sig, ".") {
		return Claims{}, ErrMalformed
	}
	gotMAC, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	if !secure.ConstantTimeEqual(gotMAC, secure.HMACSHA256([]byte(payload), s.key)) {
		return Claims{}, ErrSignatureInvalid
	}

	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	var c Claims
	if err := json.Unmarshal(body, &c); err != nil {
		return Claims{}, ErrMalformed
	}
	if c.ExpiresAt > 0 && now.After(c.ExpiresAtTime()) {
		return Claims{}, ErrExpired
	}
	if !c.wellFormed() {
		return Claims{}, ErrMalformed
	}
	return c, nil
}

// ValidateInviteToken validates token and requires the invite type.
func (s *Service) ValidateInviteToken(token string, now time.Time) (Claims, error) {
	return s.validateTyped(TypeInvite, token, now)
}

// ValidatePasswordResetToken validates token and requires the password-reset type.
func (s *Service) ValidatePasswordResetToken(token string, now time.Time) (Claims, error) {
	return s.validateTyped(TypePasswordReset, token, now)
}

func (s *Service) validateTyped(want Type, token string, now time.Time) (Claims, error) {
	c, err := s.ValidateMagicLinkToken(token, now)
	if err != nil {
		return Claims{}, err
	}
	if c.Type != want {
		return Claims{}, ErrWrongType
	}
	return c, nil
}

// Redeem validates a token of the wanted type and records its single use.
// A second redemption of the same token returns ErrAlreadyRedeemed.
func (s *Service) Redeem(ctx context.Context, token string, want Type, now time.Time) (Claims, error) {
	if s == nil {
		return Claims{}, ErrInvalidInput
	}
	if s.redemptions == nil {
		return Claims{}, ErrRedemptionDisabled
	}
	if err := ctx.Err(); err != nil {
		return Claims{}, err
	}
	if now.IsZero() {
		now = s.now()
	}

	c, err := s.validateTyped(want, token, now)
	if err != nil {
		return Claims{}, err
	}
	err = s.redemptions.Record(ctx, Redemption{
		TokenID:    c.ID,
		TokenHash:  secure.HashSHA256Hex([]byte(strings.TrimSpace(token))),
		SubjectID:  c.SubjectID,
		Type:       c.Type,
		RedeemedAt: now.UTC(),
		ExpiresAt:  c.ExpiresAtTime(),
	})
	if err != nil {
		return Claims{}, err
	}
	return c, nil
}

// ExtractTokenFromURL returns the "token" query parameter, else the final
// non-empty path segment. It performs no validation.
func ExtractTokenFromURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if tok := strings.TrimSpace(u.Query().Get("token")); tok != "" {
		return tok, true
	}
	segments := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	last := segments[len(segments)-1]
	if last == "" {
		return "", false
	}
	return last, true
}
