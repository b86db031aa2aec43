package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/alanyoungcy/cardpay/internal/server/handler"
)

type fixedSettlements struct{}

func (fixedSettlements) Status(_ context.Context, id string) (domain.PaymentStatus, error) {
	return domain.PaymentStatus{TransactionID: id, Status: domain.SettlementCompleted}, nil
}
func (fixedSettlements) EstimateFee(decimal.Decimal) decimal.Decimal { return decimal.NewFromInt(1) }
func (fixedSettlements) Backend() string { return "simulated" }

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func newTestHandler(cfg Config, limiter domain.RateLimiter) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(cfg, Handlers{
		Health:      handler.NewHealthHandler("server", nil, logger),
		Settlements: handler.NewSettlementHandler(fixedSettlements{}, "ADA", logger),
	}, nil, limiter, logger)
}

func do(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutesFeeBeforeSettlementID(t *testing.T) {
	h := newTestHandler(Config{}, nil)

	rec := do(h, http.MethodGet, "/api/v1/settlements/fee?amount=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fee":"1"`)

	rec = do(h, http.MethodGet, "/api/v1/settlements/masumi_tx_9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"transactionId":"masumi_tx_9"`)
}

func TestAuthExemptsHealth(t *testing.T) {
	h := newTestHandler(Config{APIKey: "secret"}, nil)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/v1/settlements/x", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(h, http.MethodGet, "/api/v1/settlements/x", http.Header{"X-Api-Key": {"wrong"}}).Code)
	assert.Equal(t, http.StatusOK,
		do(h, http.MethodGet, "/api/v1/settlements/x", http.Header{"Authorization": {"Bearer secret"}}).Code)
}

func TestRateLimitAndCORS(t *testing.T) {
	h := newTestHandler(Config{CORSOrigins: []string{"https://shop.example"}, RateLimit: 1, RateWindow: time.Minute}, denyAll{})

	rec := do(h, http.MethodGet, "/api/health", http.Header{"Origin": {"https://shop.example"}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "https://shop.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodOptions, "/api/v1/cards/card_001/purchase", http.Header{"Origin": {"https://other.example"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
