// Package delivery sends transactional email and keeps failed confirmation
// sends in a dead-letter queue for bounded replay.
//
// Send path: render template, call the provider with an idempotency key derived
// from the recipient's dedupe key, record the outcome on the waitlist document.
// A failed confirmation send is recorded as {sent:false, error} and enqueued.
package delivery

import (
	"context"
	"errors"
	"fmt"
)

// NotificationType selects a template.
type NotificationType string

const (
	TypeWaitlistConfirmation NotificationType = "waitlist_confirmation"
	TypeInvite               NotificationType = "invite"
	TypePasswordReset        NotificationType = "password_reset"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransient marks failures worth retrying (timeouts, 429, 5xx).
	ErrTransient = errors.New("transient delivery failure")
	// ErrPermanent marks failures that will not succeed on retry (4xx, bad recipient).
	ErrPermanent = errors.New("permanent delivery failure")

	ErrTemplateNotFound = errors.New("template not found")
)

// Message is one outbound email.
type Message struct {
	To             string
	Subject        string
	HTML           string
	IdempotencyKey string
	Locale         string
}

// SendResult carries the provider message id.
type SendResult struct {
	ID string
}

// Provider sends a single message.
type Provider interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// ProviderError is a classified provider failure.
type ProviderError struct {
	Code      string
	Status    int
	Msg       string
	Permanent bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s (HTTP %d): %s", e.Code, e.Status, e.Msg)
	}
	return fmt.Sprintf("provider %s: %s", e.Code, e.Msg)
}

// Unwrap exposes ErrPermanent or ErrTransient plus the cause.
func (e *ProviderError) Unwrap() []error {
	class := ErrTransient
	if e.Permanent {
		class = ErrPermanent
	}
	if e.Err == nil {
		return []error{class}
	}
	return []error{class, e.Err}
}

// errorCode returns the {code, msg} recorded for err.
func errorCode(err error) (string, string) {
	var pe *ProviderError
	switch {
	case errors.As(err, &pe):
		return pe.Code, pe.Msg
	case errors.Is(err, context.DeadlineExceeded):
		return "provider_timeout", err.Error()
	case errors.Is(err, context.Canceled):
		return "canceled", err.Error()
	case errors.Is(err, ErrTemplateNotFound):
		return "template_missing", err.Error()
	default:
		return "send_failed", err.Error()
	}
}

// IsPermanent reports whether err will not succeed on retry.
func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }
