package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus is the normalised state of a funds transfer.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementCompleted SettlementStatus = "completed"
	SettlementFailed    SettlementStatus = "failed"
)

// DefaultCurrency is the only currency the marketplace settles in.
const DefaultCurrency = "ADA"

// SettlementRequest asks the settlement backend to move Amount from the
// buyer to the seller.
type SettlementRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	FromAddress string          `json:"fromAddress"`
	ToAddress   string          `json:"toAddress"`
	ItemID      string          `json:"cardId"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	// IdempotencyKey is forwarded to backends that honour it. It is only
	// ever supplied by the caller.
	IdempotencyKey string       `json:"-"`
	Attestation    *Attestation `json:"attestation,omitempty"`
}

// Attestation binds the settlement metadata to the authorizer's key.
type Attestation struct {
	Signer    string `json:"signer"`
	Digest    string `json:"digest"`
	Signature string `json:"signature"`
}

// SettlementReceipt is the normalised outcome of a settle call.
type SettlementReceipt struct {
	Success       bool             `json:"success"`
	TransactionID string           `json:"transactionId"`
	Status        SettlementStatus `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Fee           *decimal.Decimal `json:"fee,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// PaymentStatus is a point-in-time view of a submitted transaction.
type PaymentStatus struct {
	TransactionID string           `json:"transactionId"`
	Status        SettlementStatus `json:"status"`
	Confirmations int              `json:"confirmations"`
	Timestamp     time.Time        `json:"timestamp"`
}
