package authapi

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// AuditEvent is one row of the audit trail.
type AuditEvent struct {
	Action    string
	At        time.Time
	IP        string
	UserAgent string
	Meta      map[string]any
}

// AuditSink persists audit events.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent) error
}

func (h *Handler) auditTokenMinted(ctx context.Context, in inbound, tokenID, typ string, emailed bool) {
	h.insertAudit(ctx, slog.LevelInfo, "admin.token.minted", in, map[string]any{
		"token_id": tokenID,
		"type":     typ,
		"emailed":  emailed,
	})
}

func (h *Handler) auditTokenRedeemed(ctx context.Context, in inbound, tokenID, subjectID string) {
	h.insertAudit(ctx, slog.LevelInfo, "token.redeemed", in, map[string]any{
		"token_id":   tokenID,
		"subject_id": subjectID,
	})
}

func (h *Handler) auditSignatureInvalid(ctx context.Context, in inbound, route string) {
	h.insertAudit(ctx, slog.LevelWarn, "security.token.signature_invalid", in, map[string]any{
		"route": route,
	})
}

func (h *Handler) auditAdminRejected(ctx context.Context, in inbound, route, reason string) {
	h.insertAudit(ctx, slog.LevelWarn, "security.admin.rejected", in, map[string]any{
		"route":  route,
		"reason": reason,
	})
}

func (h *Handler) auditReplay(ctx context.Context, in inbound, processed, dropped int) {
	h.insertAudit(ctx, slog.LevelInfo, "admin.dlq.replayed", in, map[string]any{
		"processed": processed,
		"dropped":   dropped,
	})
}

// insertAudit logs the event and, when a sink is configured, persists it.
// Sink failures are logged and never fail the request.
func (h *Handler) insertAudit(ctx context.Context, level slog.Level, action string, in inbound, meta map[string]any) {
	action = strings.TrimSpace(action)
	if h == nil || action == "" {
		return
	}

	h.log.Log(ctx, level, action, "ip", in.ipString(), "meta", meta)
	if h.audit == nil {
		return
	}
	err := h.audit.Record(ctx, AuditEvent{
		Action:    action,
		At:        h.now(),
		IP:        in.ipString(),
		UserAgent: in.UserAgent,
		Meta:      meta,
	})
	if err != nil {
		h.log.Error("api.audit.insert.fail", "err", err, "action", action)
	}
}
