package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"herald/cmd/internal/waitlist"
)

const maxBodyBytes = 1 << 20

// EventRecorder stores provider delivery events. waitlist.Store satisfies it.
type EventRecorder interface {
	RecordDeliveryEvent(ctx context.Context, ev waitlist.DeliveryEvent) (bool, error)
}

// Event is the subset of the provider payload Herald reads.
type Event struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		EmailID string `json:"email_id"`
	} `json:"data"`
}

// Name returns the event type, accepting both "type" and legacy "event" keys.
func (e Event) Name() string {
	if t := strings.TrimSpace(e.Type); t != "" {
		return t
	}
	return strings.TrimSpace(e.Event)
}

// Handler serves POST /webhooks/email.
type Handler struct {
	auth     *Authenticator
	recorder EventRecorder
	replay   ReplayGuard
	log      *slog.Logger
	requests *prometheus.CounterVec
	now      func() time.Time
}

// HandlerOption configures Handler.
type HandlerOption func(*Handler)

// WithReplayGuard enables svix-id replay protection.
func WithReplayGuard(g ReplayGuard) HandlerOption {
	return func(h *Handler) { h.replay = g }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithRegisterer registers the request counter on reg.
func WithRegisterer(reg prometheus.Registerer) HandlerOption {
	return func(h *Handler) {
		if reg != nil {
			reg.MustRegister(h.requests)
		}
	}
}

// NewHandler builds the webhook endpoint. recorder may be nil, in which case
// verified events are acknowledged and dropped.
func NewHandler(auth *Authenticator, recorder EventRecorder, opts ...HandlerOption) *Handler {
	h := &Handler{
		auth:     auth,
		recorder: recorder,
		log:      slog.Default(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herald",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Inbound provider webhooks by outcome.",
		}, []string{"outcome"}),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.reply(w, http.StatusMethodNotAllowed, "method_not_allowed", false, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		h.reply(w, http.StatusBadRequest, "read_error", false, "unable to read body")
		return
	}
	if len(body) > maxBodyBytes {
		h.reply(w, http.StatusRequestEntityTooLarge, "too_large", false, "payload too large")
		return
	}

	if !h.auth.Verify(body, r.Header.Get(SignatureHeader)) {
		h.log.Warn("webhook.signature.invalid", "remote_addr", r.RemoteAddr, "bytes", len(body))
		h.reply(w, http.StatusUnauthorized, "unauthorized", false, "invalid signature")
		return
	}

	deliveryID := strings.TrimSpace(r.Header.Get(IDHeader))
	if deliveryID != "" && h.replay != nil {
		seen, err := h.replay.Seen(r.Context(), deliveryID)
		if err != nil {
			h.log.Warn("webhook.replay.check_fail", "err", err)
		} else if seen {
			h.log.Debug("webhook.replay.duplicate", "delivery_id", deliveryID)
			h.reply(w, http.StatusOK, "duplicate", true, "duplicate delivery ignored")
			return
		}
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		h.reply(w, http.StatusBadRequest, "invalid_json", false, "invalid payload")
		return
	}

	name := ev.Name()
	msgID := strings.TrimSpace(ev.Data.EmailID)
	if name == "" || msgID == "" || h.recorder == nil {
		h.log.Info("webhook.event.acknowledged", "type", name)
		h.reply(w, http.StatusOK, "acknowledged", true, "event acknowledged")
		return
	}

	at := h.now()
	if t, err := time.Parse(time.RFC3339Nano, ev.CreatedAt); err == nil {
		at = t.UTC()
	}
	matched, err := h.recorder.RecordDeliveryEvent(r.Context(), waitlist.DeliveryEvent{MessageID: msgID, Type: name, At: at})
	if err != nil {
		h.log.Error("webhook.event.record_fail", "type", name, "message_id", msgID, "err", err)
		h.forget(r.Context(), deliveryID)
		h.reply(w, http.StatusInternalServerError, "record_failed", false, "unable to record event")
		return
	}
	h.log.Info("webhook.event.recorded", "type", name, "message_id", msgID, "matched", matched)
	h.reply(w, http.StatusOK, "recorded", true, "event recorded")
}

// forget releases a delivery id whose event was not stored.
func (h *Handler) forget(ctx context.Context, deliveryID string) {
	if deliveryID == "" || h.replay == nil {
		return
	}
	if err := h.replay.Forget(ctx, deliveryID); err != nil {
		h.log.Warn("webhook.replay.forget_fail", "delivery_id", deliveryID, "err", err)
	}
}

func (h *Handler) reply(w http.ResponseWriter, status int, outcome string, success bool, msg string) {
	h.requests.WithLabelValues(outcome).Inc()

	resp := map[string]any{"success": success}
	if success {
		resp["message"] = msg
	} else {
		resp["error"] = msg
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
