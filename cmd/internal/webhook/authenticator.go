// Package webhook authenticates and ingests signed callbacks from the email provider.
//
// Nothing in a payload is trusted before Authenticator.Verify accepts it.
package webhook

import (
	"errors"

	"herald/cmd/security/secure"
)

// SignatureHeader carries "v1,<hex>" entries.
const SignatureHeader = "svix-signature"

// IDHeader carries the provider's delivery id used for replay protection.
const IDHeader = "svix-id"

// ErrSecretMissing is returned when no webhook secret is configured.
var ErrSecretMissing = errors.New("webhook secret missing")

// Authenticator verifies payload signatures with a shared secret.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns an Authenticator for secret.
func NewAuthenticator(secret string) (*Authenticator, error) {
	key, err := secure.Key(secret, 0)
	if err != nil {
		return nil, ErrSecretMissing
	}
	return &Authenticator{secret: key}, nil
}

// Verify reports whether header holds a valid v1 signature of body.
func (a *Authenticator) Verify(body []byte, header string) bool {
	if a == nil {
		return false
	}
	return secure.VerifySignature(body, header, a.secret)
}
