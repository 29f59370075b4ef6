// Package authapi serves Herald's public HTTP surface: waitlist signup, token
// minting and validation, and the admin dead-letter replay endpoint.
package authapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"herald/cmd/internal/invite"
	"herald/cmd/internal/ratelimit"
	"herald/cmd/internal/waitlist"
	"herald/cmd/security/secure"
)

// Handler wires HTTP endpoints to the token, waitlist and delivery services.
type Handler struct {
	log *slog.Logger
	cfg Config

	tokens   *invite.Service
	waitlist *waitlist.Service
	mailer   Mailer
	replayer Replayer
	limiter  *ratelimit.Limiter
	audit    AuditSink
	webhook  http.Handler

	adminKeyHash []byte
	now          func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithTokens enables the invite and password-reset routes.
func WithTokens(s *invite.Service) HandlerOption {
	return func(h *Handler) { h.tokens = s }
}

// WithWaitlist enables POST /waitlist.
func WithWaitlist(s *waitlist.Service) HandlerOption {
	return func(h *Handler) { h.waitlist = s }
}

// WithMailer overrides the default no-op mailer.
func WithMailer(m Mailer) HandlerOption {
	return func(h *Handler) {
		if m != nil {
			h.mailer = m
		}
	}
}

// WithReplayer enables POST /admin/dlq/replay.
func WithReplayer(r Replayer) HandlerOption {
	return func(h *Handler) { h.replayer = r }
}

// WithLimiter enables rate limiting. Without it every request is admitted.
func WithLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

// WithAuditSink persists audit events in addition to logging them.
func WithAuditSink(s AuditSink) HandlerOption {
	return func(h *Handler) { h.audit = s }
}

// WithWebhook mounts the provider webhook endpoint.
func WithWebhook(wh http.Handler) HandlerOption {
	return func(h *Handler) { h.webhook = wh }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler. Routes whose dependency is missing answer 503.
func NewHandler(log *slog.Logger, cfg Config, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	cfg.clamp()

	h := &Handler{
		log:    log,
		cfg:    cfg,
		mailer: NoopMailer{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	if key := strings.TrimSpace(cfg.AdminKey); key != "" {
		h.adminKeyHash = []byte(secure.HashSHA256Hex([]byte(key)))
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/waitlist", h.handleWaitlistJoin)
	mux.HandleFunc("/invites", h.handleMint(invite.TypeInvite))
	mux.HandleFunc("/invites/validate", h.handleValidate(invite.TypeInvite))
	mux.HandleFunc("/invites/accept", h.handleAccept)
	mux.HandleFunc("/password-reset", h.handleMint(invite.TypePasswordReset))
	mux.HandleFunc("/password-reset/validate", h.handleValidate(invite.TypePasswordReset))
	mux.HandleFunc("/admin/dlq/replay", h.handleReplay)
	if h.webhook != nil {
		mux.Handle("/webhooks/email", h.webhook)
	}
}

// allow applies p to key. A false return means the 429 was already written.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, p ratelimit.Policy, key string) bool {
	if h.limiter == nil || p.Max <= 0 {
		return true
	}
	return ratelimit.Enforce(w, r, h.limiter, p, key)
}

// requireAdmin checks the bearer admin key in constant time.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request, in inbound) bool {
	if len(h.adminKeyHash) == 0 {
		writeError(w, http.StatusServiceUnavailable, "admin_disabled", "admin api disabled")
		return false
	}
	if !in.HasBearer {
		h.auditAdminRejected(r.Context(), in, r.URL.Path, "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	got := []byte(secure.HashSHA256Hex([]byte(in.Bearer)))
	if !secure.ConstantTimeEqual(got, h.adminKeyHash) {
		h.auditAdminRejected(r.Context(), in, r.URL.Path, "bad_token")
		writeError(w, http.StatusForbidden, "forbidden", "forbidden")
		return false
	}
	return true
}
