package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/google/uuid"
)

// SimulatedTxPrefix prefixes every transaction id minted by the simulator.
const SimulatedTxPrefix = "masumi_tx_"

// SimulatedBackend stands in for the payment network: it waits, then
// reports every payment as completed.
type SimulatedBackend struct {
	delay time.Duration
}

// NewSimulatedBackend creates a simulator that takes delay per payment.
func NewSimulatedBackend(delay time.Duration) *SimulatedBackend {
	return &SimulatedBackend{delay: delay}
}

func (b *SimulatedBackend) Name() string { return "simulated" }

func (b *SimulatedBackend) Submit(ctx context.Context, _ domain.SettlementRequest) (BackendResult, error) {
	if b.delay > 0 {
		t := time.NewTimer(b.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return BackendResult{}, fmt.Errorf("simulated payment interrupted: %w", ctx.Err())
		}
	}
	now := time.Now().UTC()
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return BackendResult{
		Success:       true,
		TransactionID: fmt.Sprintf("%s%d_%s", SimulatedTxPrefix, now.UnixMilli(), suffix),
		Status:        "completed",
		Timestamp:     now,
	}, nil
}

func (b *SimulatedBackend) Status(_ context.Context, txID string) (BackendStatus, error) {
	if !strings.HasPrefix(txID, SimulatedTxPrefix) {
		return BackendStatus{}, fmt.Errorf("transaction %s: %w", txID, domain.ErrNotFound)
	}
	return BackendStatus{
		TransactionID: txID,
		Status:        "completed",
		Confirmations: 6,
		Timestamp:     time.Now().UTC(),
	}, nil
}
