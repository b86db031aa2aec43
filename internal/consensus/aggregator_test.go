package consensus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/alanyoungcy/cardpay/internal/evaluator"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEvaluator answers from a per-role script after a per-role delay.
type scriptedEvaluator struct {
	answers map[string]domain.EvaluatorOpinion
	delays  map[string]time.Duration
	calls   atomic.Int32
}

func (s *scriptedEvaluator) Evaluate(ctx context.Context, role domain.EvaluatorRole, _ domain.PurchaseRequest) domain.EvaluatorOpinion {
	s.calls.Add(1)
	if d := s.delays[role.Name]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return domain.FailedOpinion(role.Name, "cancelled")
		}
	}
	return s.answers[role.Name]
}

func roles(names ...string) []domain.EvaluatorRole {
	out := make([]domain.EvaluatorRole, 0, len(names))
	for _, n := range names {
		out = append(out, domain.EvaluatorRole{Name: n, Instructions: "score it"})
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func purchase() domain.PurchaseRequest {
	return domain.PurchaseRequest{ItemID: "card_9", Price: decimal.NewFromInt(100), Rarity: domain.RarityRare, OwnerID: "s", BuyerID: "b"}
}

func TestAggregatorKeepsConfiguredOrder(t *testing.T) {
	ev := &scriptedEvaluator{
		answers: map[string]domain.EvaluatorOpinion{
			"slow": opinion("slow", 90, domain.RecommendApprove, "a"),
			"mid":  opinion("mid", 80, domain.RecommendApprove, "b"),
			"fast": opinion("fast", 70, domain.RecommendApprove, "c"),
		},
		delays: map[string]time.Duration{"slow": 40 * time.Millisecond, "mid": 20 * time.Millisecond},
	}
	agg := NewAggregator(ev, roles("slow", "mid", "fast"), DefaultPolicy(), nil, discardLogger())

	d, err := agg.Evaluate(context.Background(), purchase())
	require.NoError(t, err)

	require.Len(t, d.Opinions, 3)
	assert.Equal(t, "slow", d.Opinions[0].Role)
	assert.Equal(t, "mid", d.Opinions[1].Role)
	assert.Equal(t, "fast", d.Opinions[2].Role)
	assert.True(t, d.Approved)
}

func TestAggregatorRationaleIgnoresCompletionOrder(t *testing.T) {
	for name, answers := range map[string]map[string]domain.EvaluatorOpinion{
		"approved": {
			"a": opinion("a", 80, domain.RecommendApprove, "first"),
			"b": opinion("b", 80, domain.RecommendApprove, "second"),
			"c": opinion("c", 80, domain.RecommendApprove, "third"),
		},
		"rejected": {
			"a": opinion("a", 30, domain.RecommendReject, "first"),
			"b": opinion("b", 30, domain.RecommendReject, "second"),
			"c": opinion("c", 90, domain.RecommendApprove, "third"),
		},
	} {
		t.Run(name, func(t *testing.T) {
			run := func(delays map[string]time.Duration) domain.ConsensusDecision {
				ev := &scriptedEvaluator{answers: answers, delays: delays}
				agg := NewAggregator(ev, roles("a", "b", "c"), DefaultPolicy(), nil, discardLogger())
				d, err := agg.Evaluate(context.Background(), purchase())
				require.NoError(t, err)
				return d
			}

			first := run(map[string]time.Duration{"a": 40 * time.Millisecond, "b": 20 * time.Millisecond})
			second := run(map[string]time.Duration{"b": 20 * time.Millisecond, "c": 40 * time.Millisecond})

			assert.Equal(t, first.Rationale, second.Rationale)
			assert.Equal(t, first.Opinions, second.Opinions)
			assert.Equal(t, first.Approved, second.Approved)
			assert.Contains(t, first.Rationale, "first")
			assert.Contains(t, first.Rationale, "second")
			assert.NotContains(t, first.Rationale, "third")
		})
	}
}

// replyBackend answers with a canned JSON reply per role. Roles listed in
// hang block until their call budget runs out.
type replyBackend struct {
	replies map[string]string
	hang    map[string]bool
}

func (b *replyBackend) Complete(ctx context.Context, p evaluator.Prompt) (string, error) {
	if b.hang[p.Role.Name] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return b.replies[p.Role.Name], nil
}

func (b *replyBackend) Name() string { return "reply" }

func TestAggregatorEvaluatorTimeoutFlipsOutcome(t *testing.T) {
	backend := &replyBackend{
		replies: map[string]string{
			"a": `{"analysis":"ok","score":80,"recommendation":"approve","reasoning":"x"}`,
			"b": `{"analysis":"ok","score":75,"recommendation":"approve","reasoning":"y"}`,
			"c": `{"analysis":"ok","score":70,"recommendation":"approve","reasoning":"z"}`,
		},
	}
	client := evaluator.NewClient(backend, evaluator.Options{Timeout: 100 * time.Millisecond, MaxAttempts: 1}, nil, discardLogger())
	agg := NewAggregator(client, roles("a", "b", "c"), DefaultPolicy(), nil, discardLogger())

	d, err := agg.Evaluate(context.Background(), purchase())
	require.NoError(t, err)
	require.True(t, d.Approved)
	require.Empty(t, d.FailedEvaluators())

	backend.hang = map[string]bool{"c": true}
	start := time.Now()
	d, err = agg.Evaluate(context.Background(), purchase())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.False(t, d.Approved)
	assert.Equal(t, []string{"c"}, d.FailedEvaluators())
	assert.InDelta(t, 51.67, d.MeanScore, 0.01)
	require.Len(t, d.Opinions, 3)
	assert.False(t, d.Opinions[0].Failed)
	assert.Equal(t, 80.0, d.Opinions[0].Score)
	assert.False(t, d.Opinions[1].Failed)
	assert.Equal(t, 75.0, d.Opinions[1].Score)
	assert.Equal(t, domain.RecommendReject, d.Opinions[2].Recommendation)
	assert.Equal(t, 0.0, d.Opinions[2].Score)
}

func TestAggregatorRunsConcurrently(t *testing.T) {
	ev := &scriptedEvaluator{
		answers: map[string]domain.EvaluatorOpinion{},
		delays:  map[string]time.Duration{"a": 60 * time.Millisecond, "b": 60 * time.Millisecond, "c": 60 * time.Millisecond},
	}
	agg := NewAggregator(ev, roles("a", "b", "c"), DefaultPolicy(), nil, discardLogger())

	start := time.Now()
	_, err := agg.Evaluate(context.Background(), purchase())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, int32(3), ev.calls.Load())
}

func TestAggregatorFailedEvaluatorFlipsOutcome(t *testing.T) {
	answers := map[string]domain.EvaluatorOpinion{
		"a": opinion("a", 80, domain.RecommendApprove, "x"),
		"b": opinion("b", 75, domain.RecommendApprove, "y"),
		"c": opinion("c", 70, domain.RecommendApprove, "z"),
	}
	agg := NewAggregator(&scriptedEvaluator{answers: answers}, roles("a", "b", "c"), DefaultPolicy(), nil, discardLogger())
	d, err := agg.Evaluate(context.Background(), purchase())
	require.NoError(t, err)
	require.True(t, d.Approved)

	answers["c"] = domain.FailedOpinion("c", "timed out")
	d, err = agg.Evaluate(context.Background(), purchase())
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.InDelta(t, 51.67, d.MeanScore, 0.01)
	assert.Equal(t, []string{"c"}, d.FailedEvaluators())
}

func TestAggregatorNoEvaluators(t *testing.T) {
	agg := NewAggregator(&scriptedEvaluator{}, nil, DefaultPolicy(), nil, discardLogger())

	d, err := agg.Evaluate(context.Background(), purchase())

	assert.True(t, errors.Is(err, domain.ErrNoEvaluators))
	assert.False(t, d.Approved)
	assert.True(t, d.Misconfigured)
}

func TestAggregatorCancelled(t *testing.T) {
	ev := &scriptedEvaluator{
		answers: map[string]domain.EvaluatorOpinion{},
		delays:  map[string]time.Duration{"a": time.Second},
	}
	agg := NewAggregator(ev, roles("a"), DefaultPolicy(), nil, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := agg.Evaluate(ctx, purchase())

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAggregatorValuate(t *testing.T) {
	ev := &scriptedEvaluator{answers: map[string]domain.EvaluatorOpinion{
		"Valuation Expert": opinion("Valuation Expert", 120.0/1.5, domain.RecommendApprove, "x"),
	}}
	agg := NewAggregator(ev, roles("Risk Analyst", "Valuation Expert"), DefaultPolicy(), nil, discardLogger())

	op, price, err := agg.Valuate(context.Background(), purchase())
	require.NoError(t, err)
	assert.Equal(t, "Valuation Expert", op.Role)
	assert.Equal(t, "80.00", price.StringFixed(2))
	assert.Equal(t, int32(1), ev.calls.Load())
}
