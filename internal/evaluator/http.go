package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPBackend calls a remote scoring service that hosts the evaluator
// crew. The service answers POST /evaluate with an opinion object.
type HTTPBackend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPBackend creates a backend for the service at baseURL. The
// per-call deadline comes from the caller's context.
func NewHTTPBackend(baseURL, apiKey string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (b *HTTPBackend) Name() string { return "http" }

type evaluateRequest struct {
	Role         string          `json:"role"`
	Expertise    string          `json:"expertise"`
	Instructions string          `json:"instructions"`
	Context      json.RawMessage `json:"context"`
}

func (b *HTTPBackend) Complete(ctx context.Context, p Prompt) (string, error) {
	payload, err := json.Marshal(evaluateRequest{
		Role:         p.Role.Name,
		Expertise:    p.Role.Expertise,
		Instructions: p.System,
		Context:      p.Request,
	})
	if err != nil {
		return "", fmt.Errorf("evaluator/http: encode request: %w", err)
	}

	body, err := b.do(ctx, http.MethodPost, "/evaluate", payload)
	if err != nil {
		return "", fmt.Errorf("evaluator/http: evaluate: %w", err)
	}
	return string(body), nil
}

// Ping checks that the scoring service is reachable.
func (b *HTTPBackend) Ping(ctx context.Context) error {
	if _, err := b.do(ctx, http.MethodGet, "/availability", nil); err != nil {
		return fmt.Errorf("evaluator/http: availability: %w", err)
	}
	return nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
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

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
