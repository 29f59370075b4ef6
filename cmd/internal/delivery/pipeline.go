package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"herald/cmd/internal/waitlist"
)

const (
	// DefaultMaxAttempts bounds replays of one dead-letter entry.
	DefaultMaxAttempts = 5

	tracerName = "herald/delivery"
)

// Pipeline renders, sends and records transactional email.
type Pipeline struct {
	provider    Provider
	renderer    *Renderer
	waitlist    waitlist.Store
	dlq         DeadLetterStore
	maxAttempts int
	sendTimeout time.Duration
	metrics     *Metrics
	log         *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// PipelineOption configures Pipeline.
type PipelineOption func(*Pipeline) error

// WithMaxAttempts sets maxAttempts for new dead-letter entries.
func WithMaxAttempts(n int) PipelineOption {
	return func(p *Pipeline) error {
		if n <= 0 {
			return ErrInvalidInput
		}
		p.maxAttempts = n
		return nil
	}
}

// WithSendTimeout bounds one provider Send, retries included.
func WithSendTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		p.sendTimeout = d
		return nil
	}
}

// WithMetrics records send outcomes on m.
func WithMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) error {
		if l != nil {
			p.log = l
		}
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) error {
		if now == nil {
			return ErrInvalidInput
		}
		p.now = now
		return nil
	}
}

// NewPipeline wires a provider, templates, the waitlist store and the DLQ.
func NewPipeline(provider Provider, renderer *Renderer, wl waitlist.Store, dlq DeadLetterStore, opts ...PipelineOption) (*Pipeline, error) {
	if provider == nil || renderer == nil || wl == nil || dlq == nil {
		return nil, ErrInvalidInput
	}
	p := &Pipeline{
		provider:    provider,
		renderer:    renderer,
		waitlist:    wl,
		dlq:         dlq,
		maxAttempts: DefaultMaxAttempts,
		sendTimeout: 30 * time.Second,
		log:         slog.Default(),
		tracer:      otel.Tracer(tracerName),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ConfirmationKey is the provider idempotency key for a confirmation email.
func ConfirmationKey(dedupeKey string) string {
	return "waitlist-confirmation:" + dedupeKey
}

// SendConfirmation sends the waitlist confirmation for e once. On failure the
// error is recorded on the document and the entry is dead-lettered.
func (p *Pipeline) SendConfirmation(ctx context.Context, e waitlist.Entry) (SendResult, error) {
	if e.Comms.Confirmation.Sent {
		return SendResult{ID: e.Comms.Confirmation.MessageID}, nil
	}

	res, err := p.deliverConfirmation(ctx, e)
	if err == nil {
		if merr := p.waitlist.MarkConfirmationSent(ctx, e.ID, res.ID, p.now()); merr != nil {
			p.log.Error("delivery.confirmation.mark_sent_fail", "waitlist_id", e.ID, "err", merr)
			return res, merr
		}
		return res, nil
	}

	sendErr := toSendError(err)
	p.log.Warn("delivery.confirmation.fail", "waitlist_id", e.ID, "code", sendErr.Code, "err", err)

	if merr := p.waitlist.MarkConfirmationFailed(ctx, e.ID, sendErr); merr != nil {
		p.log.Error("delivery.confirmation.mark_failed_fail", "waitlist_id", e.ID, "err", merr)
	}
	if _, derr := p.dlq.RecordFailure(ctx, e.ID, p.maxAttempts, sendErr, p.now()); derr != nil {
		p.log.Error("delivery.dlq.enqueue_fail", "waitlist_id", e.ID, "err", derr)
		return SendResult{}, fmt.Errorf("send confirmation: %w (dead-letter: %v)", err, derr)
	}
	p.metrics.enqueue()
	return SendResult{}, fmt.Errorf("send confirmation: %w", err)
}

func (p *Pipeline) deliverConfirmation(ctx context.Context, e waitlist.Entry) (SendResult, error) {
	return p.send(ctx, TypeWaitlistConfirmation, e.Email, e.Locale, TemplateData{Email: e.Email}, ConfirmationKey(e.DedupeKey))
}

// TokenEmail describes an invite or password-reset email.
type TokenEmail struct {
	Type      NotificationType
	To        string
	Locale    string
	URL       string
	TokenID   string
	ExpiresAt time.Time
}

// SendTokenEmail sends an invite or password-reset link. Failures are returned
// to the caller and are not dead-lettered.
func (p *Pipeline) SendTokenEmail(ctx context.Context, in TokenEmail) (SendResult, error) {
	if in.Type != TypeInvite && in.Type != TypePasswordReset {
		return SendResult{}, ErrInvalidInput
	}
	if strings.TrimSpace(in.URL) == "" || strings.TrimSpace(in.TokenID) == "" {
		return SendResult{}, ErrInvalidInput
	}
	data := TemplateData{
		Email:     in.To,
		URL:       in.URL,
		ExpiresAt: in.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"),
	}
	return p.send(ctx, in.Type, in.To, in.Locale, data, string(in.Type)+":"+in.TokenID)
}

func (p *Pipeline) send(ctx context.Context, typ NotificationType, to, locale string, data TemplateData, key string) (SendResult, error) {
	ctx, span := p.tracer.Start(ctx, "delivery.send", trace.WithAttributes(
		attribute.String("herald.notification_type", string(typ)),
		attribute.String("herald.locale", locale),
	))
	defer span.End()

	subject, html, err := p.renderer.Render(typ, locale, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render")
		p.metrics.send(typ, false)
		return SendResult{}, err
	}

	sctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	res, err := p.provider.Send(sctx, Message{
		To:             to,
		Subject:        subject,
		HTML:           html,
		IdempotencyKey: key,
		Locale:         locale,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider")
		p.metrics.send(typ, false)
		return SendResult{}, err
	}
	span.SetAttributes(attribute.String("herald.message_id", res.ID))
	p.metrics.send(typ, true)
	p.log.Info("delivery.send.ok", "type", string(typ), "message_id", res.ID)
	return res, nil
}

const maxErrorMsgBytes = 500

func toSendError(err error) waitlist.SendError {
	code, msg := errorCode(err)
	if len(msg) > maxErrorMsgBytes {
		msg = strings.ToValidUTF8(msg[:maxErrorMsgBytes], "")
	}
	return waitlist.SendError{Code: code, Msg: msg}
}
