// Package evaluator asks a scoring model for one role's opinion on a
// purchase and turns whatever comes back into a well-formed opinion.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// Prompt is one evaluator call as seen by a backend.
type Prompt struct {
	Role domain.EvaluatorRole
	// System carries the role instructions.
	System string
	// User is the rendered purchase prompt for chat-style backends.
	User string
	// Request is the JSON-serialized purchase request.
	Request json.RawMessage
}

// Backend produces the raw text reply for a prompt.
type Backend interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	Name() string
}

// StatusError is a non-2xx answer from an HTTP scoring service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// retryable reports whether err is worth another attempt within the same
// call budget. Client errors other than 429 are not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errMalformed) {
		return false
	}

	code := 0
	var se *StatusError
	var oe *openai.APIError
	var ae *anthropic.Error
	switch {
	case errors.As(err, &se):
		code = se.Code
	case errors.As(err, &oe):
		code = oe.HTTPStatusCode
	case errors.As(err, &ae):
		code = ae.StatusCode
	}
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return false
	}
	return true
}
