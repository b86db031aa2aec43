package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cardpay/internal/domain"
)

// SettlementService exposes transaction lookups and fee estimates.
type SettlementService interface {
	Status(ctx context.Context, txID string) (domain.PaymentStatus, error)
	EstimateFee(amount decimal.Decimal) decimal.Decimal
	Backend() string
}

// SettlementHandler serves settlement endpoints.
type SettlementHandler struct {
	settlements SettlementService
	currency    string
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlements SettlementService, currency string, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, currency: currency, logger: logger}
}

// Status returns the current state of a transaction.
// GET /api/v1/settlements/{id}
func (h *SettlementHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := h.settlements.Status(r.Context(), id)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: settlement status failed",
				slog.String("tx_id", id),
				slog.String("error", err.Error()),
			)
			code = http.StatusBadGateway
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// EstimateFee returns the fee for an amount.
// GET /api/v1/settlements/fee?amount=100
func (h *SettlementHandler) EstimateFee(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"amount":   amount,
		"fee":      h.settlements.EstimateFee(amount),
		"currency": h.currency,
		"backend":  h.settlements.Backend(),
	})
}
