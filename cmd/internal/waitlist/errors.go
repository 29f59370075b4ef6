package waitlist

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("waitlist entry not found")
)

// ErrInvalidEmail is returned when an address cannot be parsed as a single mailbox.
var ErrInvalidEmail = errors.New("invalid email address")
