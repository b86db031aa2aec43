package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cardpay/internal/domain"
)

// CardService is what the card handler needs from the service layer.
type CardService interface {
	GetCard(ctx context.Context, id string) (domain.Card, error)
	ListCards(ctx context.Context, opts domain.ListOpts) ([]domain.Card, error)
	CountCards(ctx context.Context) (int64, error)
}

// ValuationService prices a card.
type ValuationService interface {
	Valuate(ctx context.Context, id string) (domain.Valuation, error)
}

// CardHandler serves catalog endpoints.
type CardHandler struct {
	cards      CardService
	valuations ValuationService
	logger     *slog.Logger
}

// NewCardHandler creates a CardHandler.
func NewCardHandler(cards CardService, valuations ValuationService, logger *slog.Logger) *CardHandler {
	return &CardHandler{cards: cards, valuations: valuations, logger: logger}
}

type listCardsResponse struct {
	Cards  []domain.Card `json:"cards"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListCards returns a page of the catalog.
// GET /api/v1/cards?limit=50&offset=0
func (h *CardHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	cards, err := h.cards.ListCards(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list cards failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list cards")
		return
	}
	total, err := h.cards.CountCards(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count cards failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to count cards")
		return
	}
	if cards == nil {
		cards = []domain.Card{}
	}
	writeJSON(w, http.StatusOK, listCardsResponse{Cards: cards, Total: total, Limit: opts.Limit, Offset: opts.Offset})
}

// GetCard returns one card.
// GET /api/v1/cards/{id}
func (h *CardHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	card, err := h.cards.GetCard(r.Context(), id)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: get card failed",
				slog.String("card_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, code, "failed to get card")
			return
		}
		writeError(w, code, "card not found")
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// AIValuation returns the single-evaluator price estimate.
// GET /api/v1/cards/{id}/ai-valuation
func (h *CardHandler) AIValuation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, err := h.valuations.Valuate(r.Context(), id)
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: valuation failed",
				slog.String("card_id", id),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}
