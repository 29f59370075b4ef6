package authapi

import (
	"context"
	"errors"
	"net/http"

	"herald/cmd/internal/delivery"
	"herald/cmd/internal/invite"
)

func (h *Handler) handleMint(typ invite.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		in := h.parseInbound(r)
		if !h.allow(w, r, h.cfg.TokenIPPolicy(), in.ipKey("token_ip")) {
			return
		}
		if !h.requireAdmin(w, r, in) {
			return
		}
		if h.tokens == nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "token service unavailable")
			return
		}

		var req mintRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
		ttl := req.TTLHours
		if ttl == 0 {
			ttl = h.defaultTTLHours(typ)
		}
		if ttl < 0 || ttl > h.cfg.MaxTTLHours {
			writeError(w, http.StatusBadRequest, "invalid_ttl", "ttlHours out of range")
			return
		}

		issueIn := invite.IssueInput{SubjectID: req.SubjectID, Email: req.Email, TTLHours: ttl, Now: h.now()}
		var (
			iss invite.Issued
			err error
		)
		if typ == invite.TypePasswordReset {
			iss, err = h.tokens.CreatePasswordResetToken(issueIn)
		} else {
			iss, err = h.tokens.CreateInviteToken(issueIn)
		}
		if err != nil {
			if errors.Is(err, invite.ErrInvalidInput) {
				writeError(w, http.StatusBadRequest, "invalid_request", "subjectId and email are required")
				return
			}
			h.log.Error("api.token.mint.fail", "type", string(typ), "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
			return
		}

		emailed := false
		if req.Send {
			emailed = h.sendTokenEmail(r.Context(), typ, req, iss)
		}
		h.auditTokenMinted(r.Context(), in, iss.ID, string(typ), emailed)

		writeJSON(w, http.StatusOK, mintResponse{
			response:  ok("token created"),
			TokenID:   iss.ID,
			Token:     iss.Token,
			URL:       iss.URL,
			ExpiresAt: iss.ExpiresAt,
			Emailed:   emailed,
		})
	}
}

func (h *Handler) defaultTTLHours(typ invite.Type) int {
	if typ == invite.TypePasswordReset {
		return h.cfg.ResetTTLHours
	}
	return h.cfg.InviteTTLHours
}

func (h *Handler) sendTokenEmail(ctx context.Context, typ invite.Type, req mintRequest, iss invite.Issued) bool {
	nt := delivery.TypeInvite
	if typ == invite.TypePasswordReset {
		nt = delivery.TypePasswordReset
	}
	_, err := h.mailer.SendTokenEmail(ctx, delivery.TokenEmail{
		Type:      nt,
		To:        req.Email,
		Locale:    req.Locale,
		URL:       iss.URL,
		TokenID:   iss.ID,
		ExpiresAt: iss.ExpiresAt,
	})
	if err != nil {
		h.log.Warn("api.token.email.fail", "type", string(typ), "token_id", iss.ID, "err", err)
		return false
	}
	return true
}

func (h *Handler) handleValidate(typ invite.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		in := h.parseInbound(r)
		if !h.allow(w, r, h.cfg.TokenIPPolicy(), in.ipKey("token_ip")) {
			return
		}
		if h.tokens == nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "token service unavailable")
			return
		}

		tok, found := h.readToken(w, r)
		if !found {
			return
		}
		var (
			c   invite.Claims
			err error
		)
		if typ == invite.TypePasswordReset {
			c, err = h.tokens.ValidatePasswordResetToken(tok, h.now())
		} else {
			c, err = h.tokens.ValidateInviteToken(tok, h.now())
		}
		if err != nil {
			h.tokenFailure(w, r, in, err)
			return
		}
		writeJSON(w, http.StatusOK, claimsBody("token valid", c))
	}
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	in := h.parseInbound(r)
	if !h.allow(w, r, h.cfg.TokenIPPolicy(), in.ipKey("token_ip")) {
		return
	}
	if h.tokens == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "token service unavailable")
		return
	}

	tok, found := h.readToken(w, r)
	if !found {
		return
	}
	c, err := h.tokens.Redeem(r.Context(), tok, invite.TypeInvite, h.now())
	if err != nil {
		h.tokenFailure(w, r, in, err)
		return
	}
	h.auditTokenRedeemed(r.Context(), in, c.ID, c.SubjectID)
	writeJSON(w, http.StatusOK, claimsBody("invite accepted", c))
}

func (h *Handler) readToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req tokenRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return "", false
	}
	tok, found := req.token()
	if !found {
		writeError(w, http.StatusBadRequest, "token_missing", "token or url is required")
		return "", false
	}
	return tok, true
}

// tokenFailure maps token errors to responses. Signature failures are
// recorded as security events.
func (h *Handler) tokenFailure(w http.ResponseWriter, r *http.Request, in inbound, err error) {
	switch {
	case errors.Is(err, invite.ErrSignatureInvalid):
		h.auditSignatureInvalid(r.Context(), in, r.URL.Path)
		writeError(w, http.StatusUnauthorized, "token_invalid", "invalid token")
	case errors.Is(err, invite.ErrExpired):
		writeError(w, http.StatusUnauthorized, "token_expired", "token expired")
	case errors.Is(err, invite.ErrWrongType):
		writeError(w, http.StatusForbidden, "token_wrong_type", "token not valid for this action")
	case errors.Is(err, invite.ErrAlreadyRedeemed):
		writeError(w, http.StatusConflict, "token_redeemed", "token already used")
	case errors.Is(err, invite.ErrMalformed), errors.Is(err, invite.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "token_malformed", "malformed token")
	case errors.Is(err, invite.ErrRedemptionDisabled):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "token redemption unavailable")
	default:
		h.log.Error("api.token.fail", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func claimsBody(msg string, c invite.Claims) claimsResponse {
	return claimsResponse{
		response:  ok(msg),
		TokenID:   c.ID,
		SubjectID: c.SubjectID,
		Email:     c.Email,
		Type:      string(c.Type),
		IssuedAt:  c.IssuedAtTime(),
		ExpiresAt: c.ExpiresAtTime(),
	}
}
