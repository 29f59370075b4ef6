package app

import (
	"errors"
	"fmt"
	"strings"

	"herald/cmd/internal/invite"
	"herald/cmd/security/secure"
)

// MinAdminKeyBytes is the shortest accepted admin API key.
const MinAdminKeyBytes = 24

// ValidateSecurityConfig enforces Herald's secret policy at startup.
// A missing or short token secret is fatal. The admin key and the email
// provider are optional, but when configured they must be usable.
func ValidateSecurityConfig(cfg Config, adminKey string) error {
	if _, err := secure.Key(cfg.TokenSecret, invite.MinSecretBytes); err != nil {
		switch {
		case errors.Is(err, secure.ErrKeyMissing):
			return errors.New("security policy: HERALD_TOKEN_SECRET is missing")
		case errors.Is(err, secure.ErrKeyTooShort):
			return fmt.Errorf("security policy: HERALD_TOKEN_SECRET is too short (min %d bytes)", invite.MinSecretBytes)
		default:
			return err
		}
	}

	if strings.TrimSpace(adminKey) != "" {
		if _, err := secure.Key(adminKey, MinAdminKeyBytes); err != nil {
			return fmt.Errorf("security policy: HERALD_ADMIN_API_KEY is too short (min %d bytes)", MinAdminKeyBytes)
		}
	}

	if cfg.emailEnabled() && !strings.Contains(cfg.EmailFrom, "@") {
		return errors.New("security policy: HERALD_RESEND_API_KEY is set but HERALD_EMAIL_FROM is not an address")
	}
	return nil
}
