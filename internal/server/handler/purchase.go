package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/alanyoungcy/cardpay/internal/server/middleware"
	"github.com/alanyoungcy/cardpay/internal/service"
)

// Purchaser runs the purchase flow.
type Purchaser interface {
	Purchase(ctx context.Context, in service.PurchaseInput) (service.PurchaseResult, error)
}

// PurchaseHandler serves the authorization entry point.
type PurchaseHandler struct {
	purchases        Purchaser
	defaultAutomated bool
	logger           *slog.Logger
}

// NewPurchaseHandler creates a PurchaseHandler. defaultAutomated applies
// when the body omits autoPayment.
func NewPurchaseHandler(purchases Purchaser, defaultAutomated bool, logger *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases, defaultAutomated: defaultAutomated, logger: logger}
}

type purchaseRequest struct {
	BuyerAddress   string `json:"buyerAddress"`
	AutoPayment    *bool  `json:"autoPayment"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Purchase authorizes a purchase of the card. An approved purchase whose
// settlement failed answers 202 with the failed receipt; it is not retried.
// POST /api/v1/cards/{id}/purchase
func (h *PurchaseHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body purchaseRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.BuyerAddress) == "" {
		writeError(w, http.StatusBadRequest, "buyerAddress is required")
		return
	}

	automated := h.defaultAutomated
	if body.AutoPayment != nil {
		automated = *body.AutoPayment
	}
	idem := body.IdempotencyKey
	if idem == "" {
		idem = r.Header.Get("Idempotency-Key")
	}

	res, err := h.purchases.Purchase(r.Context(), service.PurchaseInput{
		ItemID:         id,
		Buyer:          body.BuyerAddress,
		Automated:      automated,
		IdempotencyKey: idem,
	})
	if res.ID != "" {
		w.Header().Set(middleware.AuthorizationIDHeader, res.ID)
	}
	if err != nil {
		code := statusFor(err)
		if errors.Is(err, domain.ErrNoEvaluators) {
			h.logger.ErrorContext(r.Context(), "handler: purchase refused, no evaluators configured",
				slog.String("card_id", id),
			)
			writeJSON(w, code, map[string]any{"error": err.Error(), "decision": res.Decision})
			return
		}
		if code >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: purchase failed",
				slog.String("card_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, code, "purchase failed")
			return
		}
		writeError(w, code, err.Error())
		return
	}

	code := http.StatusOK
	if res.Receipt != nil && !res.Receipt.Success {
		code = http.StatusAccepted
	}
	writeJSON(w, code, res)
}
