package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestResend(t *testing.T, url string) *ResendProvider {
	t.Helper()
	p, err := NewResendProvider(ResendConfig{
		APIKey:         "re_test",
		From:           "hello@example.com",
		FromName:       "Herald",
		Endpoint:       url,
		Timeout:        200 * time.Millisecond,
		MaxTries:       3,
		InitialBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	return p
}

func TestResend_SendSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer re_test" {
			t.Errorf("missing auth header")
		}
		if r.Header.Get("Idempotency-Key") != "k1" {
			t.Errorf("missing idempotency key")
		}
		var body resendRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.From != "Herald <hello@example.com>" || len(body.To) != 1 || body.To[0] != "a@example.com" {
			t.Errorf("unexpected body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "em_1"})
	}))
	defer srv.Close()

	res, err := newTestResend(t, srv.URL).Send(context.Background(), Message{To: "a@example.com", Subject: "s", HTML: "<p>x</p>", IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ID != "em_1" {
		t.Fatalf("unexpected id %q", res.ID)
	}
}

func TestResend_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "em_2"})
	}))
	defer srv.Close()

	res, err := newTestResend(t, srv.URL).Send(context.Background(), Message{To: "a@example.com", Subject: "s"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ID != "em_2" || calls.Load() != 3 {
		t.Fatalf("expected success on third attempt, id=%q calls=%d", res.ID, calls.Load())
	}
}

func TestResend_PermanentNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"statusCode": 422, "name": "validation_error", "message": "Invalid `to` field."})
	}))
	defer srv.Close()

	_, err := newTestResend(t, srv.URL).Send(context.Background(), Message{To: "a@example.com", Subject: "s"})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Code != "validation_error" || pe.Status != 422 {
		t.Fatalf("unexpected provider error: %+v", pe)
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent failure must not be retried, calls=%d", calls.Load())
	}
}

func TestResend_TimeoutIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := newTestResend(t, srv.URL)
	p.cfg.MaxTries = 1

	_, err := p.Send(context.Background(), Message{To: "a@example.com", Subject: "s"})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if code, _ := errorCode(err); code != "provider_timeout" {
		t.Fatalf("expected provider_timeout code, got %q", code)
	}
}

func TestNewResendProvider_Validates(t *testing.T) {
	t.Parallel()

	if _, err := NewResendProvider(ResendConfig{From: "a@example.com"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without api key, got %v", err)
	}
	if _, err := NewResendProvider(ResendConfig{APIKey: "k", From: "nope"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad from, got %v", err)
	}
}
