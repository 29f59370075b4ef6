package authapi

import (
	"context"
	"errors"

	"herald/cmd/internal/delivery"
	"herald/cmd/internal/waitlist"
)

// ErrMailerDisabled is returned by NoopMailer.
var ErrMailerDisabled = errors.New("email delivery disabled")

// Mailer sends transactional email. *delivery.Pipeline satisfies it.
type Mailer interface {
	SendConfirmation(ctx context.Context, e waitlist.Entry) (delivery.SendResult, error)
	SendTokenEmail(ctx context.Context, in delivery.TokenEmail) (delivery.SendResult, error)
}

// NoopMailer is used when no provider is configured.
type NoopMailer struct{}

func (NoopMailer) SendConfirmation(context.Context, waitlist.Entry) (delivery.SendResult, error) {
	return delivery.SendResult{}, ErrMailerDisabled
}

func (NoopMailer) SendTokenEmail(context.Context, delivery.TokenEmail) (delivery.SendResult, error) {
	return delivery.SendResult{}, ErrMailerDisabled
}

// Replayer runs one dead-letter replay pass. *delivery.Replayer satisfies it.
type Replayer interface {
	Replay(ctx context.Context) (delivery.ReplayResult, error)
}
