// Package settlement moves funds for an approved purchase through a
// payment backend and normalises whatever the backend reports.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/alanyoungcy/cardpay/internal/telemetry"
	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BackendResult is a backend's raw answer to a submission. Status uses the
// backend's own vocabulary.
type BackendResult struct {
	Success       bool
	TransactionID string
	Status        string
	Timestamp     time.Time
	Fee           *decimal.Decimal
	Error         string
}

// BackendStatus is a backend's raw answer to a status query.
type BackendStatus struct {
	TransactionID string
	Status        string
	Confirmations int
	Timestamp     time.Time
}

// Backend is a payment service. An error from Submit means the service
// could not be reached or refused the call; the adapter turns it into a
// failed receipt.
type Backend interface {
	Name() string
	Submit(ctx context.Context, req domain.SettlementRequest) (BackendResult, error)
	Status(ctx context.Context, txID string) (BackendStatus, error)
}

// Attester signs settlement metadata. crypto.Attester is the production
// implementation.
type Attester interface {
	Attest(metadata []byte) (domain.Attestation, error)
}

// FeePolicy estimates the network fee when the backend does not report
// one: max(MinimumFee, amount*Rate).
type FeePolicy struct {
	MinimumFee decimal.Decimal
	Rate       decimal.Decimal
}

// DefaultFeePolicy returns 0.17 minimum and a 0.1% rate.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		MinimumFee: decimal.RequireFromString("0.17"),
		Rate:       decimal.RequireFromString("0.001"),
	}
}

// Estimate returns the fee for amount.
func (p FeePolicy) Estimate(amount decimal.Decimal) decimal.Decimal {
	return decimal.Max(p.MinimumFee, amount.Mul(p.Rate))
}

// Adapter is the settlement entry point used by the authorizer. It never
// retries a submission.
type Adapter struct {
	backend  Backend
	attester Attester
	fees     FeePolicy
	currency string
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewAdapter creates an Adapter over backend. attester may be nil.
func NewAdapter(backend Backend, attester Attester, fees FeePolicy, currency string, metrics *telemetry.Metrics, logger *slog.Logger) *Adapter {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &Adapter{
		backend:  backend,
		attester: attester,
		fees:     fees,
		currency: currency,
		tracer:   telemetry.Tracer(),
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "settlement"), slog.String("backend", backend.Name())),
	}
}

// Settle submits req once. Backend failures of any kind come back as a
// failed receipt with a nil error; an error is returned only when req
// itself cannot be prepared.
func (a *Adapter) Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementReceipt, error) {
	if err := validate(req); err != nil {
		return domain.SettlementReceipt{}, err
	}
	if req.Currency == "" {
		req.Currency = a.currency
	}
	if a.attester != nil {
		att, err := a.attester.Attest(req.Metadata)
		if err != nil {
			return domain.SettlementReceipt{}, fmt.Errorf("settlement: attest metadata: %w", err)
		}
		req.Attestation = &att
	}

	ctx, span := a.tracer.Start(ctx, "settlement.settle", trace.WithAttributes(
		attribute.String("cardpay.item.id", req.ItemID),
		attribute.String("cardpay.settlement.amount", req.Amount.String()),
		attribute.String("cardpay.settlement.backend", a.backend.Name()),
	))
	defer span.End()

	start := time.Now()
	res, err := a.backend.Submit(ctx, req)
	receipt := a.receipt(req, res, err)
	a.metrics.RecordSettlement(ctx, a.backend.Name(), time.Since(start).Seconds(), receipt.Success)

	if !receipt.Success {
		span.SetStatus(codes.Error, receipt.Error)
		a.logger.WarnContext(ctx, "settlement failed",
			slog.String("item", req.ItemID),
			slog.String("amount", req.Amount.String()),
			slog.String("status", string(receipt.Status)),
			slog.String("error", receipt.Error),
		)
		return receipt, nil
	}

	span.SetAttributes(attribute.String("cardpay.settlement.tx_id", receipt.TransactionID))
	a.logger.InfoContext(ctx, "settlement submitted",
		slog.String("item", req.ItemID),
		slog.String("amount", req.Amount.String()),
		slog.String("tx_id", receipt.TransactionID),
		slog.String("status", string(receipt.Status)),
	)
	return receipt, nil
}

func (a *Adapter) receipt(req domain.SettlementRequest, res BackendResult, err error) domain.SettlementReceipt {
	now := time.Now().UTC()
	if err != nil {
		return domain.SettlementReceipt{
			Status:    domain.SettlementFailed,
			Timestamp: now,
			Error:     err.Error(),
		}
	}

	status := NormalizeStatus(res.Status, res.Success)
	r := domain.SettlementReceipt{
		Success:   res.Success && status != domain.SettlementFailed,
		Status:    status,
		Timestamp: res.Timestamp,
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	if !r.Success {
		r.Status = domain.SettlementFailed
		r.Error = res.Error
		if r.Error == "" {
			r.Error = "payment service reported failure"
		}
		return r
	}

	r.TransactionID = res.TransactionID
	fee := a.fees.Estimate(req.Amount)
	if res.Fee != nil {
		fee = *res.Fee
	}
	r.Fee = &fee
	return r
}

// Status looks up a submitted transaction. Lookups are idempotent, so
// transient failures are retried.
func (a *Adapter) Status(ctx context.Context, txID string) (domain.PaymentStatus, error) {
	if strings.TrimSpace(txID) == "" {
		return domain.PaymentStatus{}, fmt.Errorf("settlement: status: %w: empty transaction id", domain.ErrInvalidRequest)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	st, err := backoff.Retry(ctx, func() (BackendStatus, error) {
		st, err := a.backend.Status(ctx, txID)
		if err != nil && (errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnauthorized)) {
			return st, backoff.Permanent(err)
		}
		return st, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return domain.PaymentStatus{}, fmt.Errorf("settlement: status %s: %w", txID, err)
	}

	ts := st.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return domain.PaymentStatus{
		TransactionID: txID,
		Status:        NormalizeStatus(st.Status, true),
		Confirmations: st.Confirmations,
		Timestamp:     ts,
	}, nil
}

// EstimateFee returns the fee charged when the backend reports none.
func (a *Adapter) EstimateFee(amount decimal.Decimal) decimal.Decimal {
	return a.fees.Estimate(amount)
}

// Backend returns the name of the configured backend.
func (a *Adapter) Backend() string { return a.backend.Name() }

var statusVocabulary = map[string]domain.SettlementStatus{
	"success":     domain.SettlementCompleted,
	"succeeded":   domain.SettlementCompleted,
	"confirmed":   domain.SettlementCompleted,
	"settled":     domain.SettlementCompleted,
	"completed":   domain.SettlementCompleted,
	"submitted":   domain.SettlementPending,
	"processing":  domain.SettlementPending,
	"in_progress": domain.SettlementPending,
	"pending":     domain.SettlementPending,
	"error":       domain.SettlementFailed,
	"rejected":    domain.SettlementFailed,
	"cancelled":   domain.SettlementFailed,
	"canceled":    domain.SettlementFailed,
	"failed":      domain.SettlementFailed,
}

// NormalizeStatus maps a backend status onto pending, completed or failed.
// A reply that reports failure is always failed; an unknown word is
// pending on success and failed otherwise.
func NormalizeStatus(raw string, success bool) domain.SettlementStatus {
	if !success {
		return domain.SettlementFailed
	}
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if st, ok := statusVocabulary[key]; ok {
		return st
	}
	return domain.SettlementPending
}

func validate(req domain.SettlementRequest) error {
	var problems []string
	if !req.Amount.IsPositive() {
		problems = append(problems, "amount must be positive")
	}
	if strings.TrimSpace(req.FromAddress) == "" {
		problems = append(problems, "fromAddress is required")
	}
	if strings.TrimSpace(req.ToAddress) == "" {
		problems = append(problems, "toAddress is required")
	}
	if len(req.Metadata) > 0 && !json.Valid(req.Metadata) {
		problems = append(problems, "metadata is not valid JSON")
	}
	if len(problems) > 0 {
		return fmt.Errorf("settlement: %w: %s", domain.ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}
