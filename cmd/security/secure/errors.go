package secure

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing  = errors.New("secret key missing")
	ErrKeyTooShort = errors.New("secret key too short")
)
