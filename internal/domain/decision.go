package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConsensusDecision is the aggregate of every opinion for one run. Opinions
// are kept in configured evaluator order.
type ConsensusDecision struct {
	Approved         bool               `json:"approved"`
	Confidence       float64            `json:"confidence"`
	MeanScore        float64            `json:"meanScore"`
	Approvals        int                `json:"approvals"`
	Rejections       int                `json:"rejections"`
	Opinions         []EvaluatorOpinion `json:"opinions"`
	Rationale        string             `json:"rationale"`
	Amount           decimal.Decimal    `json:"amount"`
	ListedPrice      decimal.Decimal    `json:"listedPrice"`
	RecommendedPrice *decimal.Decimal   `json:"recommendedPrice,omitempty"`
	// Misconfigured is set when no evaluators were configured; the decision
	// then fails closed.
	Misconfigured bool      `json:"misconfigured,omitempty"`
	DecidedAt     time.Time `json:"decidedAt"`
}

// FailedEvaluators returns the roles whose opinion was synthesised after a
// failure.
func (d ConsensusDecision) FailedEvaluators() []string {
	var roles []string
	for _, op := range d.Opinions {
		if op.Failed {
			roles = append(roles, op.Role)
		}
	}
	return roles
}

// Authorization is the result of one orchestrated authorization. Receipt is
// nil when the decision was a rejection or settlement was not requested.
type Authorization struct {
	Decision ConsensusDecision  `json:"decision"`
	Receipt  *SettlementReceipt `json:"receipt,omitempty"`
}

// Settled reports whether a successful receipt is attached.
func (a Authorization) Settled() bool {
	return a.Receipt != nil && a.Receipt.Success
}

// SettlementMode records how a purchase is paid for.
type SettlementMode string

const (
	SettlementAutomated SettlementMode = "automated"
	SettlementManual    SettlementMode = "manual"
)

// AuthorizationRecord is the persisted history entry of one purchase
// attempt.
type AuthorizationRecord struct {
	ID                   string             `json:"id"`
	ItemID               string             `json:"itemId"`
	ItemName             string             `json:"itemName"`
	BuyerID              string             `json:"buyer"`
	SellerID             string             `json:"seller"`
	Mode                 SettlementMode     `json:"settlement"`
	Decision             ConsensusDecision  `json:"decision"`
	Receipt              *SettlementReceipt `json:"receipt,omitempty"`
	OwnershipTransferred bool               `json:"ownershipTransferred"`
	CreatedAt            time.Time          `json:"createdAt"`
}

// Valuation is the single-evaluator price estimate for a card.
type Valuation struct {
	ItemID         string           `json:"itemId"`
	CurrentPrice   decimal.Decimal  `json:"currentPrice"`
	AIValuation    decimal.Decimal  `json:"aiValuation"`
	Difference     decimal.Decimal  `json:"difference"`
	Recommendation string           `json:"recommendation"`
	Opinion        EvaluatorOpinion `json:"opinion"`
}
