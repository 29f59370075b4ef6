package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultResendURL   = "https://api.resend.com/emails"
	defaultSendTimeout = 10 * time.Second
	defaultMaxTries    = 3
	maxErrorBodyBytes  = 64 << 10
)

// ResendConfig configures ResendProvider.
type ResendConfig struct {
	APIKey   string
	From     string
	FromName string
	Endpoint string

	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// MaxTries is the number of attempts per Send, including the first.
	MaxTries uint
	// InitialBackoff seeds the exponential backoff between attempts.
	InitialBackoff time.Duration

	HTTPClient *http.Client
}

// ResendProvider sends email through a Resend-compatible HTTP API.
type ResendProvider struct {
	cfg    ResendConfig
	client *http.Client
}

// NewResendProvider validates cfg and applies defaults.
func NewResendProvider(cfg ResendConfig) (*ResendProvider, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.From = strings.TrimSpace(cfg.From)
	if cfg.APIKey == "" || !strings.Contains(cfg.From, "@") {
		return nil, fmt.Errorf("%w: provider api key and from address are required", ErrInvalidInput)
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultResendURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = defaultMaxTries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &ResendProvider{cfg: cfg, client: client}, nil
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send implements Provider. Transient failures are retried with exponential
// backoff; the idempotency key makes retries safe on the provider side.
func (p *ResendProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	if strings.TrimSpace(msg.To) == "" || strings.TrimSpace(msg.Subject) == "" {
		return SendResult{}, &ProviderError{Code: "invalid_message", Msg: "recipient and subject are required", Permanent: true}
	}

	from := p.cfg.From
	if name := strings.TrimSpace(p.cfg.FromName); name != "" {
		from = name + " <" + p.cfg.From + ">"
	}
	payload, err := json.Marshal(resendRequest{From: from, To: []string{msg.To}, Subject: msg.Subject, HTML: msg.HTML})
	if err != nil {
		return SendResult{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialBackoff
	b.MaxInterval = 5 * time.Second

	return backoff.Retry(ctx, func() (SendResult, error) {
		res, err := p.attempt(ctx, payload, msg.IdempotencyKey)
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) && pe.Permanent {
				return SendResult{}, backoff.Permanent(err)
			}
			return SendResult{}, err
		}
		return res, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.cfg.MaxTries))
}

func (p *ResendProvider) attempt(ctx context.Context, payload []byte, idempotencyKey string) (SendResult, error) {
	actx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, &ProviderError{Code: "request_build", Msg: err.Error(), Permanent: true, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		code := "provider_unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			code = "provider_timeout"
		}
		return SendResult{}, &ProviderError{Code: code, Msg: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return SendResult{}, &ProviderError{Code: "provider_read", Status: resp.StatusCode, Msg: err.Error(), Err: err}
	}

	var out resendResponse
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if strings.TrimSpace(out.ID) == "" {
			return SendResult{}, &ProviderError{Code: "provider_bad_response", Status: resp.StatusCode, Msg: "missing message id"}
		}
		return SendResult{ID: out.ID}, nil
	}

	pe := &ProviderError{
		Code:      "provider_http_" + strconv.Itoa(resp.StatusCode),
		Status:    resp.StatusCode,
		Msg:       strings.TrimSpace(out.Message),
		Permanent: permanentStatus(resp.StatusCode),
	}
	if out.Name != "" {
		pe.Code = out.Name
	}
	if pe.Msg == "" {
		pe.Msg = http.StatusText(resp.StatusCode)
	}
	return SendResult{}, pe
}

func permanentStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status == http.StatusConflict:
		return false
	case status >= 400 && status < 500:
		return true
	default:
		return false
	}
}
