package invite

import (
	"strings"
	"time"

	"herald/cmd/internal/ids"
)

// Type distinguishes invitation tokens from password-reset tokens.
type Type string

const (
	TypeInvite        Type = "invite"
	TypePasswordReset Type = "passwordReset"
)

// Valid reports whether t is a known token type.
func (t Type) Valid() bool {
	return t == TypeInvite || t == TypePasswordReset
}

// Claims is the signed payload of a token. It is immutable once minted.
type Claims struct {
	ID        string `json:"jti"`
	SubjectID string `json:"sub"`
	Email     string `json:"email"`
	Type      Type   `json:"typ"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// IssuedAtTime returns iat as UTC.
func (c Claims) IssuedAtTime() time.Time { return time.Unix(c.IssuedAt, 0).UTC() }

// ExpiresAtTime returns exp as UTC.
func (c Claims) ExpiresAtTime() time.Time { return time.Unix(c.ExpiresAt, 0).UTC() }

func (c Claims) wellFormed() bool {
	if !ids.IsULID(c.ID) || strings.TrimSpace(c.SubjectID) == "" {
		return false
	}
	if !strings.Contains(c.Email, "@") || !c.Type.Valid() {
		return false
	}
	return c.IssuedAt > 0 && c.ExpiresAt > c.IssuedAt
}
