package authapi

import (
	"errors"
	"net/http"

	"herald/cmd/internal/ratelimit"
	"herald/cmd/internal/waitlist"
)

func (h *Handler) handleWaitlistJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if h.waitlist == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "waitlist unavailable")
		return
	}

	in := h.parseInbound(r)
	if !h.allow(w, r, h.cfg.WaitlistIPPolicy(), in.ipKey("waitlist_ip")) {
		return
	}

	var req waitlistRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email, err := waitlist.NormalizeAddress(req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_email", "invalid email address")
		return
	}
	if !h.allow(w, r, h.cfg.WaitlistEmailPolicy(), ratelimit.WaitlistKey(email)) {
		return
	}

	entry, created, err := h.waitlist.Join(r.Context(), waitlist.JoinInput{Email: email, Locale: req.Locale})
	if err != nil {
		if errors.Is(err, waitlist.ErrInvalidEmail) || errors.Is(err, waitlist.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
			return
		}
		h.log.Error("api.waitlist.join.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	// A failed send is dead-lettered by the mailer and replayed later; the
	// signup itself succeeded.
	sent := entry.Comms.Confirmation.Sent
	if !sent {
		if _, err := h.mailer.SendConfirmation(r.Context(), entry); err == nil {
			sent = true
		} else if !errors.Is(err, ErrMailerDisabled) {
			h.log.Warn("api.waitlist.confirmation.deferred", "waitlist_id", entry.ID, "err", err)
		}
	}

	msg := "joined the waitlist"
	if !created {
		msg = "already on the waitlist"
	}
	writeJSON(w, http.StatusOK, waitlistResponse{
		response:         ok(msg),
		ID:               entry.ID,
		Created:          created,
		ConfirmationSent: sent,
	})
}
