package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/shopspring/decimal"
)

// Valuator prices a card from one evaluator's opinion. consensus.Aggregator
// is the production implementation.
type Valuator interface {
	Valuate(ctx context.Context, req domain.PurchaseRequest) (domain.EvaluatorOpinion, decimal.Decimal, error)
}

// ValuationService answers "what is this card worth".
type ValuationService struct {
	cards    *CardService
	valuator Valuator
	logger   *slog.Logger
}

// NewValuationService creates a ValuationService.
func NewValuationService(cards *CardService, valuator Valuator, logger *slog.Logger) *ValuationService {
	return &ValuationService{cards: cards, valuator: valuator, logger: logger}
}

// Valuate returns the AI valuation of card id against its listed price.
func (s *ValuationService) Valuate(ctx context.Context, id string) (domain.Valuation, error) {
	card, err := s.cards.GetCard(ctx, id)
	if err != nil {
		return domain.Valuation{}, fmt.Errorf("valuation_service: %w", err)
	}

	op, price, err := s.valuator.Valuate(ctx, domain.NewPurchaseRequest(card, ""))
	if err != nil {
		return domain.Valuation{}, fmt.Errorf("valuation_service: valuate %q: %w", id, err)
	}

	v := domain.Valuation{
		ItemID:         card.ID,
		CurrentPrice:   card.Price,
		AIValuation:    price,
		Difference:     price.Sub(card.Price),
		Recommendation: "overvalued",
		Opinion:        op,
	}
	if price.GreaterThan(card.Price) {
		v.Recommendation = "undervalued"
	}
	if op.Failed {
		s.logger.WarnContext(ctx, "valuation_service: evaluator failed",
			slog.String("card_id", id),
			slog.String("role", op.Role),
		)
	}
	return v, nil
}
