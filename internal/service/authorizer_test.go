package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func purchaseRequest() domain.PurchaseRequest {
	return domain.NewPurchaseRequest(testCard(), "user_2")
}

func TestAuthorizeRejectedNeverSettles(t *testing.T) {
	c := &stubConsensus{decision: decisionWith(false, 40)}
	s := &countingSettler{receipt: okReceipt()}
	a := NewAuthorizer(c, s, "", discardLogger())

	auth, err := a.Authorize(context.Background(), purchaseRequest(), AuthorizeOptions{})
	require.NoError(t, err)
	assert.False(t, auth.Decision.Approved)
	assert.Nil(t, auth.Receipt)
	assert.Equal(t, 0, s.Calls())
}

func TestAuthorizeApprovedSettlesOnce(t *testing.T) {
	d := decisionWith(true, 80)
	d.Approvals = 1
	d.Rejections = 1
	d.Opinions = []domain.EvaluatorOpinion{
		{Role: "Valuation Expert", Analysis: "fair price", Score: 90, Recommendation: domain.RecommendApprove, Reasoning: "rare art"},
		{Role: "Risk Analyst", Analysis: domain.FailedAnalysis, Score: 0, Recommendation: domain.RecommendReject, Reasoning: "timeout", Failed: true},
		{Role: "Market Intelligence", Analysis: "steady", Score: 70, Recommendation: domain.RecommendReview, Reasoning: "flat demand"},
	}
	recommended := decimal.NewFromInt(90)
	d.RecommendedPrice = &recommended
	c := &stubConsensus{decision: d}
	s := &countingSettler{receipt: okReceipt()}
	a := NewAuthorizer(c, s, "ADA", discardLogger())

	auth, err := a.Authorize(context.Background(), purchaseRequest(), AuthorizeOptions{IdempotencyKey: "idem-1"})
	require.NoError(t, err)
	require.NotNil(t, auth.Receipt)
	assert.True(t, auth.Settled())
	require.Equal(t, 1, s.Calls())

	req := s.reqs[0]
	assert.Equal(t, "user_2", req.FromAddress)
	assert.Equal(t, "user_1", req.ToAddress)
	assert.Equal(t, "card_001", req.ItemID)
	assert.Equal(t, "ADA", req.Currency)
	assert.Equal(t, "idem-1", req.IdempotencyKey)
	assert.True(t, req.Amount.Equal(auth.Decision.Amount))

	var md settlementMetadata
	require.NoError(t, json.Unmarshal(req.Metadata, &md))
	assert.Equal(t, "Fire Dragon", md.CardName)
	assert.Equal(t, domain.RarityLegendary, md.Rarity)

	got := md.Decision
	assert.True(t, got.Approved)
	assert.Equal(t, auth.Decision.Confidence, got.Confidence)
	assert.Equal(t, auth.Decision.MeanScore, got.MeanScore)
	assert.Equal(t, 1, got.Approvals)
	assert.Equal(t, 1, got.Rejections)
	assert.Equal(t, auth.Decision.Rationale, got.Rationale)
	assert.Equal(t, auth.Decision.Opinions, got.Opinions)
	assert.True(t, got.Amount.Equal(auth.Decision.Amount))
	assert.True(t, got.ListedPrice.Equal(auth.Decision.ListedPrice))
	require.NotNil(t, got.RecommendedPrice)
	assert.True(t, got.RecommendedPrice.Equal(recommended))
	assert.False(t, got.Misconfigured)
	assert.Equal(t, []string{"Risk Analyst"}, got.FailedEvaluators())
}

func TestAuthorizeSkipSettlement(t *testing.T) {
	c := &stubConsensus{decision: decisionWith(true, 80)}
	s := &countingSettler{receipt: okReceipt()}
	a := NewAuthorizer(c, s, "", discardLogger())

	auth, err := a.Authorize(context.Background(), purchaseRequest(), AuthorizeOptions{SkipSettlement: true})
	require.NoError(t, err)
	assert.True(t, auth.Decision.Approved)
	assert.Nil(t, auth.Receipt)
	assert.Equal(t, 0, s.Calls())
}

func TestAuthorizeNoEvaluatorsFailsClosed(t *testing.T) {
	d := domain.ConsensusDecision{Misconfigured: true, Rationale: "PURCHASE REJECTED: no evaluators configured"}
	c := &stubConsensus{decision: d, err: domain.ErrNoEvaluators}
	s := &countingSettler{receipt: okReceipt()}
	a := NewAuthorizer(c, s, "", discardLogger())

	auth, err := a.Authorize(context.Background(), purchaseRequest(), AuthorizeOptions{})
	require.ErrorIs(t, err, domain.ErrNoEvaluators)
	assert.True(t, auth.Decision.Misconfigured)
	assert.False(t, auth.Decision.Approved)
	assert.Equal(t, 0, s.Calls())
}

func TestAuthorizeInvalidRequest(t *testing.T) {
	c := &stubConsensus{decision: decisionWith(true, 80)}
	s := &countingSettler{receipt: okReceipt()}
	a := NewAuthorizer(c, s, "", discardLogger())

	req := purchaseRequest()
	req.BuyerID = req.OwnerID

	_, err := a.Authorize(context.Background(), req, AuthorizeOptions{})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Equal(t, 0, c.Calls())
	assert.Equal(t, 0, s.Calls())
}

func TestAuthorizeCancelledAfterDecision(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &stubConsensus{decision: decisionWith(true, 80), hook: cancel}
	s := &countingSettler{receipt: okReceipt()}
	a := NewAuthorizer(c, s, "", discardLogger())

	auth, err := a.Authorize(ctx, purchaseRequest(), AuthorizeOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, auth.Decision.Approved)
	assert.Nil(t, auth.Receipt)
	assert.Equal(t, 0, s.Calls())
}

func TestAuthorizeSettlerError(t *testing.T) {
	boom := errors.New("attestation key missing")
	c := &stubConsensus{decision: decisionWith(true, 80)}
	s := &countingSettler{err: boom}
	a := NewAuthorizer(c, s, "", discardLogger())

	auth, err := a.Authorize(context.Background(), purchaseRequest(), AuthorizeOptions{})
	require.ErrorIs(t, err, boom)
	assert.True(t, auth.Decision.Approved)
	assert.Nil(t, auth.Receipt)
	assert.Equal(t, 1, s.Calls())
}

func TestAuthorizeFailedReceiptIsNotAnError(t *testing.T) {
	c := &stubConsensus{decision: decisionWith(true, 80)}
	s := &countingSettler{receipt: domain.SettlementReceipt{Success: false, Status: domain.SettlementFailed, Error: "backend unavailable"}}
	a := NewAuthorizer(c, s, "", discardLogger())

	auth, err := a.Authorize(context.Background(), purchaseRequest(), AuthorizeOptions{})
	require.NoError(t, err)
	require.NotNil(t, auth.Receipt)
	assert.False(t, auth.Settled())
	assert.Empty(t, auth.Receipt.TransactionID)
}

func TestAuthorizerLogsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	a := NewAuthorizer(&stubConsensus{decision: decisionWith(false, 40)}, &countingSettler{}, "", logger)

	_, err := a.Authorize(context.Background(), purchaseRequest(), AuthorizeOptions{})
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "authorizer", entry["component"])
	assert.Equal(t, "card_001", entry["item"])
}
