package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCard() domain.Card {
	return domain.Card{
		ID:          "card_001",
		Name:        "Fire Dragon",
		Description: "A legendary dragon",
		Price:       decimal.NewFromInt(100),
		Rarity:      domain.RarityLegendary,
		Stats:       map[string]int{"attack": 95, "defense": 80},
		OwnerID:     "user_1",
	}
}

func decisionWith(approved bool, mean float64) domain.ConsensusDecision {
	return domain.ConsensusDecision{
		Approved:    approved,
		Confidence:  mean / 100,
		MeanScore:   mean,
		Amount:      decimal.NewFromInt(100),
		ListedPrice: decimal.NewFromInt(100),
		Opinions: []domain.EvaluatorOpinion{
			{Role: "Valuation Expert", Score: mean, Recommendation: domain.RecommendApprove},
		},
		Rationale: "test",
	}
}

// stubConsensus returns a fixed decision and counts calls.
type stubConsensus struct {
	decision domain.ConsensusDecision
	err      error
	hook     func()
	mu       sync.Mutex
	calls    int
}

func (s *stubConsensus) Evaluate(_ context.Context, req domain.PurchaseRequest) (domain.ConsensusDecision, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.hook != nil {
		s.hook()
	}
	d := s.decision
	d.ListedPrice = req.Price
	return d, s.err
}

func (s *stubConsensus) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// countingSettler records every settle call.
type countingSettler struct {
	receipt domain.SettlementReceipt
	err     error
	mu      sync.Mutex
	reqs    []domain.SettlementRequest
}

func (s *countingSettler) Settle(_ context.Context, req domain.SettlementRequest) (domain.SettlementReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.receipt, s.err
}

func (s *countingSettler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func okReceipt() domain.SettlementReceipt {
	fee := decimal.RequireFromString("0.17")
	return domain.SettlementReceipt{
		Success:       true,
		TransactionID: "masumi_tx_1",
		Status:        domain.SettlementCompleted,
		Timestamp:     time.Now(),
		Fee:           &fee,
	}
}

// memCards is an in-memory CardStore.
type memCards struct {
	mu       sync.Mutex
	cards    map[string]domain.Card
	ownerErr error
	getByIDs int
}

func newMemCards(cards ...domain.Card) *memCards {
	m := &memCards{cards: make(map[string]domain.Card)}
	for _, c := range cards {
		m.cards[c.ID] = c
	}
	return m
}

func (m *memCards) Upsert(_ context.Context, c domain.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[c.ID] = c
	return nil
}

func (m *memCards) GetByID(_ context.Context, id string) (domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByIDs++
	c, ok := m.cards[id]
	if !ok {
		return domain.Card{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *memCards) List(_ context.Context, opts domain.ListOpts) ([]domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Card, 0, len(m.cards))
	for _, c := range m.cards {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memCards) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.cards)), nil
}

func (m *memCards) UpdateOwner(_ context.Context, id, expected, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ownerErr != nil {
		return m.ownerErr
	}
	c, ok := m.cards[id]
	if !ok || c.OwnerID != expected {
		return domain.ErrNotFound
	}
	c.OwnerID = owner
	m.cards[id] = c
	return nil
}

func (m *memCards) owner(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cards[id].OwnerID
}

// memCache is an in-memory CardCache.
type memCache struct {
	mu          sync.Mutex
	cards       map[string]domain.Card
	invalidated []string
}

func newMemCache() *memCache { return &memCache{cards: make(map[string]domain.Card)} }

func (c *memCache) Set(_ context.Context, card domain.Card) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cards[card.ID] = card
	return nil
}

func (c *memCache) Get(_ context.Context, id string) (domain.Card, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	card, ok := c.cards[id]
	if !ok {
		return domain.Card{}, domain.ErrNotFound
	}
	return card, nil
}

func (c *memCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cards, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

// memLocks hands out one holder per key.
type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
	keys []string
}

func newMemLocks() *memLocks { return &memLocks{held: make(map[string]bool)} }

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	l.keys = append(l.keys, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// memHistory is an in-memory AuthorizationStore.
type memHistory struct {
	mu   sync.Mutex
	recs []domain.AuthorizationRecord
}

func (h *memHistory) Create(_ context.Context, rec domain.AuthorizationRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, rec)
	return nil
}

func (h *memHistory) MarkOwnershipTransferred(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.recs {
		if h.recs[i].ID == id {
			h.recs[i].OwnershipTransferred = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (h *memHistory) GetByID(_ context.Context, id string) (domain.AuthorizationRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.recs {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.AuthorizationRecord{}, domain.ErrNotFound
}

func (h *memHistory) List(_ context.Context, _ domain.ListOpts) ([]domain.AuthorizationRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.AuthorizationRecord(nil), h.recs...), nil
}

func (h *memHistory) ListByItem(_ context.Context, itemID string, _ domain.ListOpts) ([]domain.AuthorizationRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.AuthorizationRecord
	for _, r := range h.recs {
		if r.ItemID == itemID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h *memHistory) ListBefore(_ context.Context, before time.Time) ([]domain.AuthorizationRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.AuthorizationRecord
	for _, r := range h.recs {
		if r.CreatedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

// memAudit records audit events.
type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// memBus records publishes and stream appends.
type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: make(map[string][][]byte), streamed: make(map[string][][]byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, fmt.Errorf("not supported")
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *memBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// recordingNotifier keeps every alert.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	bodies []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.bodies = append(n.bodies, message)
	return nil
}

func (n *recordingNotifier) has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

func (n *recordingNotifier) joined() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return strings.Join(n.bodies, "\n")
}
