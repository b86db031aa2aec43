package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/google/uuid"
)

// Notifier delivers operator alerts. notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// DefaultLockTTL bounds how long one purchase may hold its card lock.
const DefaultLockTTL = 3 * time.Minute

// bookkeepingTimeout bounds history, ownership and event writes that run
// after funds have moved.
const bookkeepingTimeout = 30 * time.Second

// PurchaseInput is one buyer's request to acquire a card.
type PurchaseInput struct {
	ItemID string
	Buyer  string
	// Automated settles through the configured backend. When false the
	// decision is returned and the buyer pays out of band.
	Automated      bool
	IdempotencyKey string
}

// PurchaseResult is what a purchase attempt produced.
type PurchaseResult struct {
	ID                   string                    `json:"id"`
	ItemID               string                    `json:"itemId"`
	Decision             domain.ConsensusDecision  `json:"decision"`
	Receipt              *domain.SettlementReceipt `json:"receipt,omitempty"`
	Mode                 domain.SettlementMode     `json:"settlement"`
	OwnershipTransferred bool                      `json:"ownershipTransferred"`
}

// PurchaseService runs the full purchase flow around the Authorizer: card
// lookup, per-card locking, ownership transfer, history, events and alerts.
// Only cards and authorizer are required.
type PurchaseService struct {
	cards      *CardService
	authorizer *Authorizer
	locks      domain.LockManager
	history    domain.AuthorizationStore
	audit      domain.AuditStore
	bus        domain.SignalBus
	notifier   Notifier
	lockTTL    time.Duration
	logger     *slog.Logger
}

// NewPurchaseService creates a PurchaseService.
func NewPurchaseService(
	cards *CardService,
	authorizer *Authorizer,
	locks domain.LockManager,
	history domain.AuthorizationStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier Notifier,
	lockTTL time.Duration,
	logger *slog.Logger,
) *PurchaseService {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &PurchaseService{
		cards:      cards,
		authorizer: authorizer,
		locks:      locks,
		history:    history,
		audit:      audit,
		bus:        bus,
		notifier:   notifier,
		lockTTL:    lockTTL,
		logger:     logger,
	}
}

// Purchase authorizes buyer acquiring the card and, when settlement
// succeeds, transfers ownership. A rejection returns a result and a nil
// error. Concurrent purchases of the same card fail with
// domain.ErrLockHeld.
func (s *PurchaseService) Purchase(ctx context.Context, in PurchaseInput) (PurchaseResult, error) {
	if strings.TrimSpace(in.Buyer) == "" {
		return PurchaseResult{}, fmt.Errorf("purchase_service: %w: buyer is required", domain.ErrInvalidRequest)
	}

	card, err := s.cards.GetCard(ctx, in.ItemID)
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("purchase_service: %w", err)
	}
	if strings.EqualFold(card.OwnerID, in.Buyer) {
		return PurchaseResult{}, fmt.Errorf("purchase_service: %q: %w", card.ID, domain.ErrAlreadyOwned)
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "purchase:"+card.ID, s.lockTTL)
		if err != nil {
			return PurchaseResult{}, fmt.Errorf("purchase_service: lock %q: %w", card.ID, err)
		}
		defer unlock()
	}

	mode := domain.SettlementManual
	if in.Automated {
		mode = domain.SettlementAutomated
	}

	req := domain.NewPurchaseRequest(card, in.Buyer)
	auth, authErr := s.authorizer.Authorize(ctx, req, AuthorizeOptions{
		IdempotencyKey: in.IdempotencyKey,
		SkipSettlement: !in.Automated,
	})
	if authErr != nil && !errors.Is(authErr, domain.ErrNoEvaluators) {
		return PurchaseResult{}, fmt.Errorf("purchase_service: %w", authErr)
	}

	// Once the backend has taken the money the rest must complete even if
	// the caller goes away.
	if auth.Settled() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
		defer cancel()
	}

	rec := domain.AuthorizationRecord{
		ID:        uuid.NewString(),
		ItemID:    card.ID,
		ItemName:  card.Name,
		BuyerID:   in.Buyer,
		SellerID:  card.OwnerID,
		Mode:      mode,
		Decision:  auth.Decision,
		Receipt:   auth.Receipt,
		CreatedAt: time.Now().UTC(),
	}
	s.record(ctx, rec)

	if auth.Settled() {
		rec.OwnershipTransferred = s.transfer(ctx, rec)
	}

	s.publish(ctx, rec)
	s.alert(ctx, rec)

	res := PurchaseResult{
		ID:                   rec.ID,
		ItemID:               rec.ItemID,
		Decision:             rec.Decision,
		Receipt:              rec.Receipt,
		Mode:                 rec.Mode,
		OwnershipTransferred: rec.OwnershipTransferred,
	}
	if authErr != nil {
		return res, fmt.Errorf("purchase_service: %w", authErr)
	}
	return res, nil
}

// GetAuthorization returns one history entry.
func (s *PurchaseService) GetAuthorization(ctx context.Context, id string) (domain.AuthorizationRecord, error) {
	if s.history == nil {
		return domain.AuthorizationRecord{}, fmt.Errorf("purchase_service: get %q: %w", id, domain.ErrNotFound)
	}
	rec, err := s.history.GetByID(ctx, id)
	if err != nil {
		return domain.AuthorizationRecord{}, fmt.Errorf("purchase_service: get %q: %w", id, err)
	}
	return rec, nil
}

// ListAuthorizations returns history entries, newest first, optionally
// limited to one card.
func (s *PurchaseService) ListAuthorizations(ctx context.Context, itemID string, opts domain.ListOpts) ([]domain.AuthorizationRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	var (
		recs []domain.AuthorizationRecord
		err  error
	)
	if itemID != "" {
		recs, err = s.history.ListByItem(ctx, itemID, opts)
	} else {
		recs, err = s.history.List(ctx, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("purchase_service: list authorizations: %w", err)
	}
	return recs, nil
}

// record persists rec. Funds may already have moved, so a storage failure
// is logged and the purchase continues.
func (s *PurchaseService) record(ctx context.Context, rec domain.AuthorizationRecord) {
	if s.history != nil {
		if err := s.history.Create(ctx, rec); err != nil {
			s.logger.ErrorContext(ctx, "purchase_service: persist authorization failed",
				slog.String("authorization_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	detail := map[string]any{
		"authorization_id": rec.ID,
		"item_id":          rec.ItemID,
		"buyer":            rec.BuyerID,
		"approved":         rec.Decision.Approved,
		"mean_score":       rec.Decision.MeanScore,
		"settlement":       string(rec.Mode),
	}
	if rec.Receipt != nil {
		detail["transaction_id"] = rec.Receipt.TransactionID
		detail["settled"] = rec.Receipt.Success
	}
	s.auditLog(ctx, "purchase_authorization", detail)
}

// transfer moves ownership after a successful settlement. A conflict is
// reported to operators rather than returned; the payment cannot be undone
// from here.
func (s *PurchaseService) transfer(ctx context.Context, rec domain.AuthorizationRecord) bool {
	if err := s.cards.TransferOwnership(ctx, rec.ItemID, rec.SellerID, rec.BuyerID); err != nil {
		s.logger.ErrorContext(ctx, "purchase_service: ownership transfer failed",
			slog.String("authorization_id", rec.ID),
			slog.String("item_id", rec.ItemID),
			slog.String("tx_id", rec.Receipt.TransactionID),
			slog.String("error", err.Error()),
		)
		s.auditLog(ctx, domain.EventOwnershipConflict, map[string]any{
			"authorization_id": rec.ID,
			"item_id":          rec.ItemID,
			"transaction_id":   rec.Receipt.TransactionID,
			"error":            err.Error(),
		})
		s.notify(ctx, domain.EventOwnershipConflict, "Ownership conflict",
			fmt.Sprintf("Card %s was paid for by %s (tx %s) but could not be transferred: %v",
				rec.ItemID, rec.BuyerID, rec.Receipt.TransactionID, err))
		return false
	}

	if s.history != nil {
		if err := s.history.MarkOwnershipTransferred(ctx, rec.ID); err != nil {
			s.logger.WarnContext(ctx, "purchase_service: mark transferred failed",
				slog.String("authorization_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

func (s *PurchaseService) publish(ctx context.Context, rec domain.AuthorizationRecord) {
	if s.bus == nil {
		return
	}
	ev := domain.AuthorizationEvent{
		Type:                 domain.EventPurchaseRejected,
		AuthorizationID:      rec.ID,
		ItemID:               rec.ItemID,
		BuyerID:              rec.BuyerID,
		Approved:             rec.Decision.Approved,
		Confidence:           rec.Decision.Confidence,
		MeanScore:            rec.Decision.MeanScore,
		Mode:                 rec.Mode,
		OwnershipTransferred: rec.OwnershipTransferred,
		At:                   rec.CreatedAt,
	}
	if rec.Decision.Approved {
		ev.Type = domain.EventPurchaseApproved
	}
	if rec.Receipt != nil {
		ev.TransactionID = rec.Receipt.TransactionID
		ev.SettlementStatus = rec.Receipt.Status
		if !rec.Receipt.Success {
			ev.Type = domain.EventSettlementFailed
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "purchase_service: marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelAuthorization, payload); err != nil {
		s.logger.WarnContext(ctx, "purchase_service: publish failed",
			slog.String("channel", domain.ChannelAuthorization),
			slog.String("error", err.Error()),
		)
	}
	if rec.Receipt != nil {
		if err := s.bus.Publish(ctx, domain.ChannelSettlement, payload); err != nil {
			s.logger.WarnContext(ctx, "purchase_service: publish failed",
				slog.String("channel", domain.ChannelSettlement),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamAuthorizations, payload); err != nil {
		s.logger.WarnContext(ctx, "purchase_service: stream append failed",
			slog.String("error", err.Error()),
		)
	}
}

func (s *PurchaseService) alert(ctx context.Context, rec domain.AuthorizationRecord) {
	d := rec.Decision
	if failed := d.FailedEvaluators(); len(failed) > 0 {
		s.notify(ctx, domain.EventEvaluatorFailed, "Evaluator failure",
			fmt.Sprintf("Card %s: %s did not produce an opinion", rec.ItemID, strings.Join(failed, ", ")))
	}

	switch {
	case rec.Receipt != nil && !rec.Receipt.Success:
		s.notify(ctx, domain.EventSettlementFailed, "Settlement failed",
			fmt.Sprintf("Card %s approved for %s at %s but payment failed: %s",
				rec.ItemID, rec.BuyerID, d.Amount.StringFixed(2), rec.Receipt.Error))
	case d.Approved:
		msg := fmt.Sprintf("Card %s (%s) approved for %s at %s, score %.1f",
			rec.ItemID, rec.ItemName, rec.BuyerID, d.Amount.StringFixed(2), d.MeanScore)
		if rec.Receipt != nil {
			msg += ", tx " + rec.Receipt.TransactionID
		}
		s.notify(ctx, domain.EventPurchaseApproved, "Purchase approved", msg)
	default:
		s.notify(ctx, domain.EventPurchaseRejected, "Purchase rejected",
			fmt.Sprintf("Card %s (%s) rejected for %s, score %.1f",
				rec.ItemID, rec.ItemName, rec.BuyerID, d.MeanScore))
	}
}

func (s *PurchaseService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "purchase_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PurchaseService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "purchase_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
