package authapi

import "net/http"

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	in := h.parseInbound(r)
	if !h.requireAdmin(w, r, in) {
		return
	}
	if h.replayer == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "replay unavailable")
		return
	}

	res, err := h.replayer.Replay(r.Context())
	if err != nil {
		h.log.Error("api.dlq.replay.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "replay_failed", "replay failed")
		return
	}
	h.auditReplay(r.Context(), in, res.Processed, res.Dropped)
	writeJSON(w, http.StatusOK, replayResponse{response: ok("replay complete"), Result: res})
}
