package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded along the authorization path.
type Metrics struct {
	EvaluatorDuration  metric.Float64Histogram
	EvaluatorFailures  metric.Int64Counter
	Decisions          metric.Int64Counter
	SettlementDuration metric.Float64Histogram
	SettlementFailures metric.Int64Counter
}

// NewMetrics registers the cardpay instruments on m.
func NewMetrics(m metric.Meter) (*Metrics, error) {
	evalDuration, err := m.Float64Histogram("cardpay.evaluator.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall-clock duration of one evaluator call"),
	)
	if err != nil {
		return nil, err
	}

	evalFailures, err := m.Int64Counter("cardpay.evaluator.failures",
		metric.WithUnit("{failure}"),
		metric.WithDescription("Evaluator calls that fell back to a failure opinion"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := m.Int64Counter("cardpay.consensus.decisions",
		metric.WithUnit("{decision}"),
		metric.WithDescription("Consensus decisions by outcome"),
	)
	if err != nil {
		return nil, err
	}

	settleDuration, err := m.Float64Histogram("cardpay.settlement.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of one settlement submission"),
	)
	if err != nil {
		return nil, err
	}

	settleFailures, err := m.Int64Counter("cardpay.settlement.failures",
		metric.WithUnit("{failure}"),
		metric.WithDescription("Settlements that produced a failed receipt"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		EvaluatorDuration:  evalDuration,
		EvaluatorFailures:  evalFailures,
		Decisions:          decisions,
		SettlementDuration: settleDuration,
		SettlementFailures: settleFailures,
	}, nil
}

// DefaultMetrics registers the instruments on the global meter provider.
// Until Init runs the global provider is a no-op, so the instruments are too.
func DefaultMetrics() *Metrics {
	m, err := NewMetrics(otel.Meter(ScopeName))
	if err != nil {
		otel.Handle(err)
		return nil
	}
	return m
}

// RecordEvaluator records one evaluator call for role.
func (m *Metrics) RecordEvaluator(ctx context.Context, role string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("cardpay.evaluator.role", role))
	m.EvaluatorDuration.Record(ctx, seconds, attrs)
	if failed {
		m.EvaluatorFailures.Add(ctx, 1, attrs)
	}
}

// RecordDecision counts one consensus outcome.
func (m *Metrics) RecordDecision(ctx context.Context, approved bool) {
	if m == nil {
		return
	}
	m.Decisions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("cardpay.decision.approved", approved)))
}

// RecordSettlement records one settlement submission against backend.
func (m *Metrics) RecordSettlement(ctx context.Context, backend string, seconds float64, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("cardpay.settlement.backend", backend))
	m.SettlementDuration.Record(ctx, seconds, attrs)
	if !success {
		m.SettlementFailures.Add(ctx, 1, attrs)
	}
}
