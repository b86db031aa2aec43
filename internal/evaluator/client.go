package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/alanyoungcy/cardpay/internal/telemetry"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Options bound every evaluator call.
type Options struct {
	// Timeout is the whole budget for one role, retries included.
	Timeout     time.Duration
	MaxAttempts int
	// RequestsPerSecond caps calls into the backend; 0 disables the cap.
	RequestsPerSecond float64
	Burst             int
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
}

// DefaultOptions returns the production call budget.
func DefaultOptions() Options {
	return Options{
		Timeout:        30 * time.Second,
		MaxAttempts:    2,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// Client runs one role against a backend. It holds no per-purchase state and
// is safe for concurrent use.
type Client struct {
	backend Backend
	opts    Options
	limiter *rate.Limiter
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewClient wraps backend with the call budget in opts.
func NewClient(backend Backend, opts Options, metrics *telemetry.Metrics, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultOptions().InitialBackoff
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{
		backend: backend,
		opts:    opts,
		limiter: limiter,
		tracer:  telemetry.Tracer(),
		metrics: metrics,
		logger:  logger.With(slog.String("component", "evaluator"), slog.String("backend", backend.Name())),
	}
}

// Evaluate asks the backend for role's opinion on req. It never fails: a
// timeout, transport error or unusable reply yields the worst-case opinion
// for role.
func (c *Client) Evaluate(ctx context.Context, role domain.EvaluatorRole, req domain.PurchaseRequest) domain.EvaluatorOpinion {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "evaluator.evaluate", trace.WithAttributes(
		attribute.String("cardpay.evaluator.role", role.Name),
		attribute.String("cardpay.item.id", req.ItemID),
	))
	defer span.End()

	op, err := c.evaluate(ctx, role, req)
	if err != nil {
		reason := failureReason(ctx, err)
		span.SetStatus(codes.Error, reason)
		c.logger.WarnContext(ctx, "evaluator failed",
			slog.String("role", role.Name),
			slog.String("item", req.ItemID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		op = domain.FailedOpinion(role.Name, reason)
	}

	span.SetAttributes(
		attribute.Float64("cardpay.evaluator.score", op.Score),
		attribute.String("cardpay.evaluator.recommendation", string(op.Recommendation)),
	)
	c.metrics.RecordEvaluator(ctx, role.Name, time.Since(start).Seconds(), op.Failed)
	return op
}

func (c *Client) evaluate(ctx context.Context, role domain.EvaluatorRole, req domain.PurchaseRequest) (domain.EvaluatorOpinion, error) {
	prompt, err := BuildPrompt(role, req)
	if err != nil {
		return domain.EvaluatorOpinion{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.InitialBackoff
	bo.MaxInterval = c.opts.Timeout / 2

	return backoff.Retry(ctx, func() (domain.EvaluatorOpinion, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return domain.EvaluatorOpinion{}, backoff.Permanent(fmt.Errorf("%w: %v", errRateBudget, err))
			}
		}
		raw, err := c.backend.Complete(ctx, prompt)
		if err != nil {
			if !retryable(err) {
				return domain.EvaluatorOpinion{}, backoff.Permanent(err)
			}
			return domain.EvaluatorOpinion{}, err
		}
		op, err := parseReply(role.Name, raw)
		if err != nil {
			return domain.EvaluatorOpinion{}, backoff.Permanent(err)
		}
		return op, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.opts.MaxAttempts)),
	)
}

var errRateBudget = errors.New("rate limit budget exceeded")

// failureReason classifies err into the short cause recorded on the
// synthetic opinion.
func failureReason(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, errMalformed):
		return "malformed reply"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errRateBudget),
		errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "backend unavailable"
	}
}

// BuildPrompt renders the prompt sent for role about req.
func BuildPrompt(role domain.EvaluatorRole, req domain.PurchaseRequest) (Prompt, error) {
	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("evaluator: encode purchase request: %w", err)
	}
	return Prompt{
		Role:    role,
		System:  role.Instructions,
		Request: payload,
		User: "Analyze this card purchase:\n" + string(payload) +
			"\n\nProvide your analysis in JSON format with: analysis, score (0-100), recommendation (approve/reject/review), reasoning",
	}, nil
}
