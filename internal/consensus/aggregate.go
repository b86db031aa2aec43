// Package consensus fans a purchase out to every configured evaluator and
// folds their opinions into one decision.
package consensus

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/shopspring/decimal"
)

// AmountPolicy selects the amount an approved purchase settles for.
type AmountPolicy string

const (
	// AmountListed settles for the listed price.
	AmountListed AmountPolicy = "listed"
	// AmountRecommended settles for the valuation role's recommended price
	// when it is positive and below the listed price.
	AmountRecommended AmountPolicy = "recommended"
)

// Policy holds the tunables of the decision rule.
type Policy struct {
	MinScore      float64
	AmountPolicy  AmountPolicy
	ValuationRole string
}

// DefaultPolicy returns the stock decision rule.
func DefaultPolicy() Policy {
	return Policy{
		MinScore:      65,
		AmountPolicy:  AmountListed,
		ValuationRole: "Valuation Expert",
	}
}

// NoEvaluatorsRationale is the rationale of a fail-closed decision.
const NoEvaluatorsRationale = "PURCHASE REJECTED: no evaluators configured"

// Aggregate applies the decision rule to opinions for an item listed at
// price. It is deterministic apart from DecidedAt.
//
// A purchase is approved when approvals outnumber rejections and the mean
// score reaches policy.MinScore. With no opinions the decision fails closed
// and is flagged Misconfigured.
func Aggregate(opinions []domain.EvaluatorOpinion, price decimal.Decimal, policy Policy) domain.ConsensusDecision {
	d := domain.ConsensusDecision{
		Opinions:    append([]domain.EvaluatorOpinion(nil), opinions...),
		Amount:      price,
		ListedPrice: price,
		DecidedAt:   time.Now().UTC(),
	}
	if len(opinions) == 0 {
		d.Misconfigured = true
		d.Rationale = NoEvaluatorsRationale
		return d
	}

	var sum float64
	for _, op := range opinions {
		sum += op.Score
		switch op.Recommendation {
		case domain.RecommendApprove:
			d.Approvals++
		case domain.RecommendReject:
			d.Rejections++
		}
	}
	d.MeanScore = sum / float64(len(opinions))
	d.Approved = d.Approvals > d.Rejections && d.MeanScore >= policy.MinScore
	d.Confidence = math.Min(1, math.Max(0, math.Round(d.MeanScore)/100))
	d.Rationale = rationale(opinions, d.Approved, d.MeanScore)

	if rec, ok := recommendedPrice(opinions, price, policy.ValuationRole); ok {
		d.RecommendedPrice = &rec
		if policy.AmountPolicy == AmountRecommended && rec.IsPositive() && rec.LessThan(price) {
			d.Amount = rec
		}
	}
	return d
}

// ValuationPrice is price scaled by score/100, rounded to cents.
func ValuationPrice(price decimal.Decimal, score float64) decimal.Decimal {
	return price.Mul(decimal.NewFromFloat(score)).Div(decimal.NewFromInt(100)).Round(2)
}

func recommendedPrice(opinions []domain.EvaluatorOpinion, price decimal.Decimal, role string) (decimal.Decimal, bool) {
	if role == "" {
		return decimal.Decimal{}, false
	}
	for _, op := range opinions {
		if op.Role == role && !op.Failed {
			return ValuationPrice(price, op.Score), true
		}
	}
	return decimal.Decimal{}, false
}

func rationale(opinions []domain.EvaluatorOpinion, approved bool, mean float64) string {
	var b strings.Builder
	if approved {
		picked := pick(opinions, domain.RecommendApprove, func(a, b float64) bool { return a > b })
		fmt.Fprintf(&b, "PURCHASE APPROVED (Score: %.1f/100). %d/%d evaluators recommend approval. ",
			mean, countOf(opinions, domain.RecommendApprove), len(opinions))
		parts := make([]string, 0, len(picked))
		for _, op := range picked {
			parts = append(parts, fmt.Sprintf("%s gives %s/100 - %s", op.Role, formatScore(op.Score), op.Reasoning))
		}
		b.WriteString(strings.Join(parts, ". "))
	} else {
		picked := pick(opinions, domain.RecommendReject, func(a, b float64) bool { return a < b })
		fmt.Fprintf(&b, "PURCHASE REJECTED (Score: %.1f/100). %d/%d evaluators advise against. ",
			mean, countOf(opinions, domain.RecommendReject), len(opinions))
		parts := make([]string, 0, len(picked))
		for _, op := range picked {
			parts = append(parts, fmt.Sprintf("%s concern: %s", op.Role, op.Reasoning))
		}
		b.WriteString(strings.Join(parts, ". "))
	}
	return strings.TrimSpace(b.String())
}

// pick returns up to two opinions voting rec, ordered by less. Ties keep
// evaluator order.
func pick(opinions []domain.EvaluatorOpinion, rec domain.Recommendation, less func(a, b float64) bool) []domain.EvaluatorOpinion {
	var out []domain.EvaluatorOpinion
	for _, op := range opinions {
		if op.Recommendation == rec {
			out = append(out, op)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i].Score, out[j].Score) })
	if len(out) > 2 {
		out = out[:2]
	}
	return out
}

func countOf(opinions []domain.EvaluatorOpinion, rec domain.Recommendation) int {
	n := 0
	for _, op := range opinions {
		if op.Recommendation == rec {
			n++
		}
	}
	return n
}

func formatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
