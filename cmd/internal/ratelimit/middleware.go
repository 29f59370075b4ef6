package ratelimit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Middleware enforces p on every request keyed by key.
func Middleware(l *Limiter, p Policy, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil || p.Max <= 0 || key == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k, ok := key(r)
			if ok && !Enforce(w, r, l, p, k) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Enforce checks p for key and writes headers. On denial it writes the 429
// response and returns false; the caller must stop handling the request.
func Enforce(w http.ResponseWriter, r *http.Request, l *Limiter, p Policy, key string) bool {
	d, err := l.Allow(r.Context(), p, key)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			writeJSON(w, http.StatusTooManyRequests, limitedBody{
				Error: "rate limiter unavailable",
				Code:  "rate_limit_unavailable",
				Limit: p.Max,
			})
			return false
		}
		if errors.Is(err, ErrInvalidInput) {
			return true
		}
		return l.failOpen
	}

	now := l.now()
	WriteHeaders(w, d, now)
	if d.Allowed {
		return true
	}
	writeJSON(w, http.StatusTooManyRequests, limitedBody{
		Error:      "too many requests",
		Code:       "rate_limited",
		RetryAfter: d.RetryAfter(now),
		Limit:      d.Limit,
		Remaining:  d.Remaining,
	})
	return false
}

// WriteHeaders sets X-RateLimit-Limit/Remaining/Reset (unix seconds), plus
// Retry-After when the request is denied.
func WriteHeaders(w http.ResponseWriter, d Decision, now time.Time) {
	if d.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	if !d.Allowed {
		h.Set("Retry-After", strconv.FormatInt(d.RetryAfter(now), 10))
	}
}

type limitedBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int64  `json:"retryAfter"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
