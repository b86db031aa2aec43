package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// ArchiveHandler lets an operator request an archive pass outside the
// schedule.
type ArchiveHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{}
}

// NewArchiveHandler creates an ArchiveHandler sending on triggerCh. The
// archiver loop must receive from it.
func NewArchiveHandler(triggerCh chan<- struct{}, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{triggerCh: triggerCh, logger: logger}
}

// Trigger enqueues one archive pass. A request made while another is still
// queued is coalesced into it.
// POST /api/v1/archive/trigger
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: archive trigger requested")

	queued := true
	select {
	case h.triggerCh <- struct{}{}:
	default:
		queued = false
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"queued":       queued,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
