package domain

import "time"

// Bus channels and streams carrying authorization traffic.
const (
	ChannelAuthorization = "ch:authorization"
	ChannelSettlement    = "ch:settlement"
	ChannelStatus        = "ch:status"
	StreamAuthorizations = "stream:authorizations"
)

// Notification event names, matched against notify.events in config.
const (
	EventPurchaseApproved  = "purchase_approved"
	EventPurchaseRejected  = "purchase_rejected"
	EventSettlementFailed  = "settlement_failed"
	EventEvaluatorFailed   = "evaluator_failed"
	EventOwnershipConflict = "ownership_conflict"
)

// AuthorizationEvent is published on the bus after every purchase attempt.
type AuthorizationEvent struct {
	Type                 string           `json:"type"`
	AuthorizationID      string           `json:"authorizationId"`
	ItemID               string           `json:"itemId"`
	BuyerID              string           `json:"buyer"`
	Approved             bool             `json:"approved"`
	Confidence           float64          `json:"confidence"`
	MeanScore            float64          `json:"meanScore"`
	Mode                 SettlementMode   `json:"settlement"`
	TransactionID        string           `json:"transactionId,omitempty"`
	SettlementStatus     SettlementStatus `json:"settlementStatus,omitempty"`
	OwnershipTransferred bool             `json:"ownershipTransferred"`
	At                   time.Time        `json:"at"`
}
