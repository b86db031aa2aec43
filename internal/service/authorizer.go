package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/alanyoungcy/cardpay/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Consensus produces a decision for a purchase. consensus.Aggregator is the
// production implementation.
type Consensus interface {
	Evaluate(ctx context.Context, req domain.PurchaseRequest) (domain.ConsensusDecision, error)
}

// Settler moves funds for an approved purchase. settlement.Adapter is the
// production implementation.
type Settler interface {
	Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementReceipt, error)
}

// AuthorizeOptions tune a single authorization.
type AuthorizeOptions struct {
	// IdempotencyKey is forwarded to the settlement backend when set.
	IdempotencyKey string
	// SkipSettlement returns the decision without moving funds; the buyer
	// pays out of band.
	SkipSettlement bool
}

// Authorizer turns a purchase request into a decision and, when approved,
// exactly one settlement attempt. It never touches the catalog.
type Authorizer struct {
	consensus Consensus
	settler   Settler
	currency  string
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewAuthorizer creates an Authorizer settling in currency.
func NewAuthorizer(c Consensus, s Settler, currency string, logger *slog.Logger) *Authorizer {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &Authorizer{
		consensus: c,
		settler:   s,
		currency:  currency,
		tracer:    telemetry.Tracer(),
		logger:    logger.With(slog.String("component", "authorizer")),
	}
}

// Authorize evaluates req and settles it if approved.
//
// A rejection is a normal outcome and returns a nil error with no receipt.
// With no evaluators configured the fail-closed decision is returned along
// with domain.ErrNoEvaluators. If ctx ends after the decision but before
// settlement, no settlement is attempted and ctx.Err() is returned with the
// decision.
func (a *Authorizer) Authorize(ctx context.Context, req domain.PurchaseRequest, opts AuthorizeOptions) (domain.Authorization, error) {
	if err := req.Validate(); err != nil {
		return domain.Authorization{}, err
	}

	ctx, span := a.tracer.Start(ctx, "authorizer.authorize", trace.WithAttributes(
		attribute.String("cardpay.item.id", req.ItemID),
		attribute.Bool("cardpay.settlement.skip", opts.SkipSettlement),
	))
	defer span.End()

	decision, err := a.consensus.Evaluate(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrNoEvaluators) {
			return domain.Authorization{Decision: decision}, err
		}
		return domain.Authorization{}, fmt.Errorf("authorizer: evaluate %s: %w", req.ItemID, err)
	}

	auth := domain.Authorization{Decision: decision}
	if !decision.Approved {
		a.logger.InfoContext(ctx, "authorizer: purchase rejected",
			slog.String("item", req.ItemID),
			slog.Float64("mean_score", decision.MeanScore),
		)
		return auth, nil
	}
	if opts.SkipSettlement {
		a.logger.InfoContext(ctx, "authorizer: approved, settlement left to buyer",
			slog.String("item", req.ItemID),
		)
		return auth, nil
	}
	if err := ctx.Err(); err != nil {
		return auth, err
	}

	sreq, err := a.settlementRequest(req, decision, opts)
	if err != nil {
		return auth, err
	}
	receipt, err := a.settler.Settle(ctx, sreq)
	if err != nil {
		return auth, fmt.Errorf("authorizer: settle %s: %w", req.ItemID, err)
	}
	auth.Receipt = &receipt

	span.SetAttributes(attribute.Bool("cardpay.settlement.success", receipt.Success))
	a.logger.InfoContext(ctx, "authorizer: purchase authorized",
		slog.String("item", req.ItemID),
		slog.String("amount", decision.Amount.String()),
		slog.Bool("settled", receipt.Success),
		slog.String("tx_id", receipt.TransactionID),
	)
	return auth, nil
}

// settlementMetadata travels with the payment so the settlement record
// explains why it was approved.
type settlementMetadata struct {
	Decision domain.ConsensusDecision `json:"decision"`
	CardName string                   `json:"cardName"`
	Rarity   domain.Rarity            `json:"rarity"`
}

func (a *Authorizer) settlementRequest(req domain.PurchaseRequest, d domain.ConsensusDecision, opts AuthorizeOptions) (domain.SettlementRequest, error) {
	md := settlementMetadata{
		Decision: d,
		CardName: req.ItemName,
		Rarity:   req.Rarity,
	}

	raw, err := json.Marshal(md)
	if err != nil {
		return domain.SettlementRequest{}, fmt.Errorf("authorizer: encode settlement metadata: %w", err)
	}
	return domain.SettlementRequest{
		Amount:         d.Amount,
		Currency:       a.currency,
		FromAddress:    req.BuyerID,
		ToAddress:      req.OwnerID,
		ItemID:         req.ItemID,
		Metadata:       raw,
		IdempotencyKey: opts.IdempotencyKey,
	}, nil
}
