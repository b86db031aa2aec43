package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cardpay/internal/domain"
)

// AuthorizationService reads purchase history.
type AuthorizationService interface {
	GetAuthorization(ctx context.Context, id string) (domain.AuthorizationRecord, error)
	ListAuthorizations(ctx context.Context, itemID string, opts domain.ListOpts) ([]domain.AuthorizationRecord, error)
}

// AuthorizationHandler serves authorization history.
type AuthorizationHandler struct {
	history AuthorizationService
	logger  *slog.Logger
}

// NewAuthorizationHandler creates an AuthorizationHandler.
func NewAuthorizationHandler(history AuthorizationService, logger *slog.Logger) *AuthorizationHandler {
	return &AuthorizationHandler{history: history, logger: logger}
}

// ListAuthorizations returns history newest first, optionally for one card.
// GET /api/v1/authorizations?item=card_001&limit=50
func (h *AuthorizationHandler) ListAuthorizations(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	recs, err := h.history.ListAuthorizations(r.Context(), r.URL.Query().Get("item"), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list authorizations failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list authorizations")
		return
	}
	if recs == nil {
		recs = []domain.AuthorizationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authorizations": recs,
		"limit":          opts.Limit,
		"offset":         opts.Offset,
	})
}

// GetAuthorization returns one history entry.
// GET /api/v1/authorizations/{id}
func (h *AuthorizationHandler) GetAuthorization(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.history.GetAuthorization(r.Context(), id)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: get authorization failed",
				slog.String("authorization_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, code, "failed to get authorization")
			return
		}
		writeError(w, code, "authorization not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
