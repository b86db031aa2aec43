package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/cardpay/internal/crypto"
	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBackendSubmit(t *testing.T) {
	signer := &crypto.RequestSigner{KeyID: "k1", Secret: "s1"}
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))

		raw, _ := io.ReadAll(r.Body)
		assert.True(t, signer.Verify(r.Method, r.URL.Path, string(raw),
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature)))
		require.NoError(t, json.Unmarshal(raw, &gotBody))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":       true,
			"transactionId": "masumi_tx_1",
			"status":        "processing",
			"timestamp":     "2026-01-02T03:04:05Z",
			"feeEstimate":   0.2,
		})
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, "api-key", signer, time.Second)
	a := NewAdapter(b, nil, DefaultFeePolicy(), "ADA", nil, quietLogger())

	req := request("42")
	req.IdempotencyKey = "idem-1"
	r, err := a.Settle(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, r.Success)
	assert.Equal(t, domain.SettlementPending, r.Status)
	assert.Equal(t, "0.2", r.Fee.String())
	assert.Equal(t, 2026, r.Timestamp.Year())

	assert.Equal(t, "card_001", gotBody["cardId"])
	assert.Equal(t, "ADA", gotBody["currency"])
	assert.Equal(t, "addr_buyer", gotBody["fromAddress"])
	assert.NotContains(t, gotBody, "IdempotencyKey")
}

func TestHTTPBackendNoIdempotencyHeaderByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{"success":true,"transactionId":"t","status":"completed"}`))
	}))
	defer srv.Close()

	a := NewAdapter(NewHTTPBackend(srv.URL, "", nil, time.Second), nil, DefaultFeePolicy(), "ADA", nil, quietLogger())
	r, err := a.Settle(context.Background(), request("1"))
	require.NoError(t, err)
	assert.True(t, r.Success)
}

func TestHTTPBackendServerErrorIsFailedReceipt(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAdapter(NewHTTPBackend(srv.URL, "", nil, time.Second), nil, DefaultFeePolicy(), "ADA", nil, quietLogger())
	r, err := a.Settle(context.Background(), request("1"))

	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "HTTP 500")
	assert.Equal(t, 1, calls)
}

func TestHTTPBackendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := NewAdapter(NewHTTPBackend(url, "", nil, time.Second), nil, DefaultFeePolicy(), "ADA", nil, quietLogger())
	r, err := a.Settle(context.Background(), request("1"))
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, domain.SettlementFailed, r.Status)
}

func TestHTTPBackendStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/masumi_tx_9" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"transactionId":"masumi_tx_9","status":"confirmed","confirmations":6,"timestamp":"2026-03-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	a := NewAdapter(NewHTTPBackend(srv.URL, "", nil, time.Second), nil, DefaultFeePolicy(), "ADA", nil, quietLogger())

	st, err := a.Status(context.Background(), "masumi_tx_9")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementCompleted, st.Status)
	assert.Equal(t, 6, st.Confirmations)

	_, err = a.Status(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
