package invite

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")

	// Validation outcomes. ErrSignatureInvalid is a security event; callers log it.
	ErrMalformed        = errors.New("token malformed")
	ErrExpired          = errors.New("token expired")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrWrongType        = errors.New("token type mismatch")

	// ErrSigningKey means the server-held signing secret is absent or too short.
	ErrSigningKey = errors.New("token signing key misconfigured")

	ErrAlreadyRedeemed    = errors.New("token already redeemed")
	ErrRedemptionDisabled = errors.New("token redemption ledger not configured")
)
