package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/cardpay/internal/crypto"
	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPBackend talks to a Masumi-style payment service over REST.
type HTTPBackend struct {
	baseURL    string
	apiKey     string
	signer     *crypto.RequestSigner
	httpClient *http.Client
}

// NewHTTPBackend creates a client for the service at baseURL. signer may
// be nil.
func NewHTTPBackend(baseURL, apiKey string, signer *crypto.RequestSigner, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		signer:     signer,
		httpClient: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (b *HTTPBackend) Name() string { return "http" }

type paymentResponse struct {
	Success       bool             `json:"success"`
	TransactionID string           `json:"transactionId"`
	Status        string           `json:"status"`
	Timestamp     string           `json:"timestamp"`
	Fee           *decimal.Decimal `json:"fee"`
	FeeEstimate   *decimal.Decimal `json:"feeEstimate"`
	Error         string           `json:"error"`
}

type statusResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Confirmations int    `json:"confirmations"`
	Timestamp     string `json:"timestamp"`
}

func (b *HTTPBackend) Submit(ctx context.Context, req domain.SettlementRequest) (BackendResult, error) {
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}
	body, err := b.do(ctx, http.MethodPost, "/payments", req, headers)
	if err != nil {
		return BackendResult{}, fmt.Errorf("settlement/http: submit payment: %w", err)
	}

	var pr paymentResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return BackendResult{}, fmt.Errorf("settlement/http: decode payment: %w", err)
	}
	fee := pr.Fee
	if fee == nil {
		fee = pr.FeeEstimate
	}
	return BackendResult{
		Success:       pr.Success,
		TransactionID: pr.TransactionID,
		Status:        pr.Status,
		Timestamp:     parseTimestamp(pr.Timestamp),
		Fee:           fee,
		Error:         pr.Error,
	}, nil
}

func (b *HTTPBackend) Status(ctx context.Context, txID string) (BackendStatus, error) {
	body, err := b.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(txID), nil, nil)
	if err != nil {
		return BackendStatus{}, fmt.Errorf("settlement/http: payment status: %w", err)
	}
	var sr statusResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return BackendStatus{}, fmt.Errorf("settlement/http: decode status: %w", err)
	}
	return BackendStatus{
		TransactionID: sr.TransactionID,
		Status:        sr.Status,
		Confirmations: sr.Confirmations,
		Timestamp:     parseTimestamp(sr.Timestamp),
	}, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, payload any, headers map[string]string) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(raw)
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if b.signer != nil {
		for k, v := range b.signer.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := strings.TrimSpace(string(body))
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
