package consensus

import (
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

var votes = []domain.Recommendation{domain.RecommendApprove, domain.RecommendReject, domain.RecommendReview}

func buildOpinions(n int, scores []float64, picks []int) []domain.EvaluatorOpinion {
	ops := make([]domain.EvaluatorOpinion, 0, n)
	for i := 0; i < n && i < len(scores) && i < len(picks); i++ {
		ops = append(ops, opinion("role-"+strconv.Itoa(i), scores[i], votes[picks[i]], "r"))
	}
	return ops
}

// TestDecisionRule checks the decision against an independent restatement
// of the rule for arbitrary rosters.
func TestDecisionRule(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("approved iff majority approve and mean reaches the floor", prop.ForAll(
		func(n int, scores []float64, picks []int) bool {
			ops := buildOpinions(n, scores, picks)
			if len(ops) == 0 {
				return true
			}
			d := Aggregate(ops, decimal.NewFromInt(100), DefaultPolicy())

			var sum float64
			approve, reject := 0, 0
			for _, op := range ops {
				sum += op.Score
				switch op.Recommendation {
				case domain.RecommendApprove:
					approve++
				case domain.RecommendReject:
					reject++
				}
			}
			mean := sum / float64(len(ops))
			want := approve > reject && mean >= 65
			return d.Approved == want && d.Approvals == approve && d.Rejections == reject
		},
		gen.IntRange(1, 6),
		gen.SliceOfN(6, gen.Float64Range(0, 100)),
		gen.SliceOfN(6, gen.IntRange(0, 2)),
	))

	properties.Property("confidence is the rounded mean in [0,1]", prop.ForAll(
		func(n int, scores []float64, picks []int) bool {
			ops := buildOpinions(n, scores, picks)
			if len(ops) == 0 {
				return true
			}
			d := Aggregate(ops, decimal.NewFromInt(100), DefaultPolicy())
			return d.Confidence >= 0 && d.Confidence <= 1 &&
				math.Abs(d.Confidence-math.Round(d.MeanScore)/100) < 1e-9
		},
		gen.IntRange(1, 6),
		gen.SliceOfN(6, gen.Float64Range(0, 100)),
		gen.SliceOfN(6, gen.IntRange(0, 2)),
	))

	properties.Property("opinions keep roster order and the rationale names the outcome", prop.ForAll(
		func(n int, scores []float64, picks []int) bool {
			ops := buildOpinions(n, scores, picks)
			if len(ops) == 0 {
				return true
			}
			d := Aggregate(ops, decimal.NewFromInt(100), DefaultPolicy())
			for i := range ops {
				if d.Opinions[i].Role != ops[i].Role {
					return false
				}
			}
			if d.Approved {
				return strings.HasPrefix(d.Rationale, "PURCHASE APPROVED")
			}
			return strings.HasPrefix(d.Rationale, "PURCHASE REJECTED")
		},
		gen.IntRange(1, 6),
		gen.SliceOfN(6, gen.Float64Range(0, 100)),
		gen.SliceOfN(6, gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
