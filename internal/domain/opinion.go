package domain

import "strings"

// Recommendation is an evaluator's vote.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReject  Recommendation = "reject"
	RecommendReview  Recommendation = "review"
)

// ParseRecommendation lowercases s and reports whether it is a known vote.
func ParseRecommendation(s string) (Recommendation, bool) {
	r := Recommendation(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RecommendApprove, RecommendReject, RecommendReview:
		return r, true
	}
	return "", false
}

// EvaluatorRole describes one specialised evaluator. Name is unique within
// a configured roster.
type EvaluatorRole struct {
	Name         string `json:"name"`
	Expertise    string `json:"expertise"`
	Instructions string `json:"instructions"`
}

// EvaluatorOpinion is the output of one evaluator for one purchase.
type EvaluatorOpinion struct {
	Role           string         `json:"role"`
	Analysis       string         `json:"analysis"`
	Score          float64        `json:"score"`
	Recommendation Recommendation `json:"recommendation"`
	Reasoning      string         `json:"reasoning"`
	// Failed marks a synthetic opinion produced because the evaluator
	// could not be reached or replied with garbage.
	Failed bool `json:"failed,omitempty"`
}

// Opinion text used when an evaluator fails.
const (
	FailedAnalysis = "Error during analysis"
)

// FailedOpinion is the worst-case opinion recorded for an evaluator that
// timed out, errored, or returned an unusable reply.
func FailedOpinion(role, reason string) EvaluatorOpinion {
	return EvaluatorOpinion{
		Role:           role,
		Analysis:       FailedAnalysis,
		Score:          0,
		Recommendation: RecommendReject,
		Reasoning:      role + " evaluator failed: " + reason,
		Failed:         true,
	}
}
