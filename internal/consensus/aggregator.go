package consensus

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/alanyoungcy/cardpay/internal/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Evaluator produces one role's opinion. Implementations must not fail;
// evaluator.Client is the production one.
type Evaluator interface {
	Evaluate(ctx context.Context, role domain.EvaluatorRole, req domain.PurchaseRequest) domain.EvaluatorOpinion
}

// Aggregator runs the configured roster concurrently and aggregates the
// result.
type Aggregator struct {
	evaluator Evaluator
	roles     []domain.EvaluatorRole
	policy    Policy
	tracer    trace.Tracer
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// NewAggregator creates an Aggregator over roles, in the given order.
func NewAggregator(ev Evaluator, roles []domain.EvaluatorRole, policy Policy, metrics *telemetry.Metrics, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		evaluator: ev,
		roles:     append([]domain.EvaluatorRole(nil), roles...),
		policy:    policy,
		tracer:    telemetry.Tracer(),
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "consensus")),
	}
}

// Roles returns a copy of the configured roster.
func (a *Aggregator) Roles() []domain.EvaluatorRole {
	return append([]domain.EvaluatorRole(nil), a.roles...)
}

// Role looks up a configured role by name.
func (a *Aggregator) Role(name string) (domain.EvaluatorRole, bool) {
	for _, r := range a.roles {
		if r.Name == name {
			return r, true
		}
	}
	return domain.EvaluatorRole{}, false
}

// Policy returns the decision policy in force.
func (a *Aggregator) Policy() Policy { return a.policy }

// Evaluate collects one opinion per role and returns the decision. With an
// empty roster it returns the fail-closed decision together with
// domain.ErrNoEvaluators. If ctx ends before every opinion is in, it
// returns ctx.Err().
func (a *Aggregator) Evaluate(ctx context.Context, req domain.PurchaseRequest) (domain.ConsensusDecision, error) {
	ctx, span := a.tracer.Start(ctx, "consensus.evaluate", trace.WithAttributes(
		attribute.String("cardpay.item.id", req.ItemID),
		attribute.Int("cardpay.evaluators", len(a.roles)),
	))
	defer span.End()

	if len(a.roles) == 0 {
		a.logger.ErrorContext(ctx, "no evaluators configured, failing closed", slog.String("item", req.ItemID))
		return Aggregate(nil, req.Price, a.policy), domain.ErrNoEvaluators
	}

	opinions := make([]domain.EvaluatorOpinion, len(a.roles))
	g, gctx := errgroup.WithContext(ctx)
	for i, role := range a.roles {
		g.Go(func() error {
			opinions[i] = a.evaluator.Evaluate(gctx, role, req)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return domain.ConsensusDecision{}, err
	}

	d := Aggregate(opinions, req.Price, a.policy)
	span.SetAttributes(
		attribute.Bool("cardpay.decision.approved", d.Approved),
		attribute.Float64("cardpay.decision.mean_score", d.MeanScore),
	)
	a.metrics.RecordDecision(ctx, d.Approved)
	a.logger.InfoContext(ctx, "consensus reached",
		slog.String("item", req.ItemID),
		slog.Bool("approved", d.Approved),
		slog.Float64("mean_score", d.MeanScore),
		slog.Int("approvals", d.Approvals),
		slog.Int("rejections", d.Rejections),
		slog.Int("failed", len(d.FailedEvaluators())),
	)
	return d, nil
}

// Valuate runs the valuation role alone and prices the item from its
// score.
func (a *Aggregator) Valuate(ctx context.Context, req domain.PurchaseRequest) (domain.EvaluatorOpinion, decimal.Decimal, error) {
	role, ok := a.Role(a.policy.ValuationRole)
	if !ok {
		if len(a.roles) == 0 {
			return domain.EvaluatorOpinion{}, decimal.Decimal{}, domain.ErrNoEvaluators
		}
		role = a.roles[0]
	}
	op := a.evaluator.Evaluate(ctx, role, req)
	if err := ctx.Err(); err != nil {
		return domain.EvaluatorOpinion{}, decimal.Decimal{}, err
	}
	return op, ValuationPrice(req.Price, op.Score), nil
}
