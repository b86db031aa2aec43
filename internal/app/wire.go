package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/cardpay/internal/blob/s3"
	"github.com/alanyoungcy/cardpay/internal/cache/redis"
	"github.com/alanyoungcy/cardpay/internal/config"
	"github.com/alanyoungcy/cardpay/internal/consensus"
	"github.com/alanyoungcy/cardpay/internal/crypto"
	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/alanyoungcy/cardpay/internal/evaluator"
	"github.com/alanyoungcy/cardpay/internal/notify"
	"github.com/alanyoungcy/cardpay/internal/server/handler"
	"github.com/alanyoungcy/cardpay/internal/settlement"
	"github.com/alanyoungcy/cardpay/internal/store/postgres"
	"github.com/alanyoungcy/cardpay/internal/telemetry"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function. Redis-backed fields are
// nil in archive mode; Archiver is nil unless the mode needs S3.
type Dependencies struct {
	// Stores
	CardStore          domain.CardStore
	AuthorizationStore domain.AuthorizationStore
	AuditStore         domain.AuditStore

	// Caches
	CardCache   domain.CardCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Decision core
	Aggregator *consensus.Aggregator
	Settlement *settlement.Adapter

	Notifier *notify.Notifier
	Health   map[string]handler.Pinger
}

// needsRedis returns true for modes that take purchase locks or publish
// events.
func needsRedis(mode string) bool {
	return mode != "archive"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- Telemetry (before anything registers instruments) ---
	if cfg.Telemetry.Enabled {
		provider, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint, cfg.Telemetry.Environment)
		if err != nil {
			return fail(fmt.Errorf("wire: telemetry: %w", err))
		}
		closers = append(closers, func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutCtx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
			}
		})
	}
	metrics := telemetry.DefaultMetrics()

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ConfigFrom(cfg.Postgres))
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}

	pool := pgClient.Pool()
	deps.CardStore = postgres.NewCardStore(pool)
	authorizations := postgres.NewAuthorizationStore(pool)
	deps.AuthorizationStore = authorizations
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.Health["postgres"] = pgClient.Ping

	// --- Redis ---
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ConfigFrom(cfg.Redis))
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.CardCache = redis.NewCardCache(redisClient, cfg.Redis.CardCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.Health["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.NeedsS3() {
		s3Client, err := s3blob.New(ctx, s3blob.ConfigFrom(cfg.S3))
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			authorizations,
			deps.AuditStore,
		)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Evaluators and consensus ---
	backend, err := newEvaluatorBackend(cfg.Evaluator)
	if err != nil {
		return fail(err)
	}
	evalClient := evaluator.NewClient(backend, evaluator.Options{
		Timeout:           cfg.Evaluator.Timeout.Duration,
		MaxAttempts:       cfg.Evaluator.MaxAttempts,
		RequestsPerSecond: cfg.Evaluator.RequestsPerSecond,
		Burst:             cfg.Evaluator.Burst,
	}, metrics, logger)
	deps.Aggregator = consensus.NewAggregator(evalClient, roster(cfg.Evaluator.Roles), consensus.Policy{
		MinScore:      cfg.Consensus.MinScore,
		AmountPolicy:  consensus.AmountPolicy(strings.ToLower(cfg.Consensus.AmountPolicy)),
		ValuationRole: cfg.Consensus.ValuationRole,
	}, metrics, logger)

	// --- Settlement ---
	adapter, err := newSettlementAdapter(cfg, metrics, logger)
	if err != nil {
		return fail(err)
	}
	deps.Settlement = adapter

	// --- Notifications ---
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("mode", mode),
		slog.String("evaluator", backend.Name()),
		slog.String("settlement", adapter.Backend()),
		slog.Int("roles", len(deps.Aggregator.Roles())),
		slog.Bool("redis", deps.SignalBus != nil),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("notify", deps.Notifier != nil),
	)
	return deps, cleanup, nil
}

func newEvaluatorBackend(cfg config.EvaluatorConfig) (evaluator.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "openai":
		return evaluator.NewOpenAIBackend(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil
	case "anthropic":
		return evaluator.NewAnthropicBackend(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil
	case "http":
		return evaluator.NewHTTPBackend(cfg.BaseURL, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("wire: unknown evaluator backend %q", cfg.Backend)
	}
}

// roster converts configured roles, falling back to the built-in four.
func roster(roles []config.RoleConfig) []domain.EvaluatorRole {
	custom := make([]domain.EvaluatorRole, 0, len(roles))
	for _, r := range roles {
		custom = append(custom, domain.EvaluatorRole{
			Name:         r.Name,
			Expertise:    r.Expertise,
			Instructions: r.Instructions,
		})
	}
	return evaluator.Roster(custom)
}

func newSettlementAdapter(cfg *config.Config, metrics *telemetry.Metrics, logger *slog.Logger) (*settlement.Adapter, error) {
	sc := cfg.Settlement

	var backend settlement.Backend
	switch strings.ToLower(sc.Backend) {
	case "simulated":
		backend = settlement.NewSimulatedBackend(sc.SimulatedDelay.Duration)
	case "http":
		var signer *crypto.RequestSigner
		if sc.SigningSecret != "" {
			signer = &crypto.RequestSigner{KeyID: sc.SigningKey, Secret: sc.SigningSecret}
		}
		backend = settlement.NewHTTPBackend(sc.BaseURL, sc.APIKey, signer, sc.Timeout.Duration)
	default:
		return nil, fmt.Errorf("wire: unknown settlement backend %q", sc.Backend)
	}

	var attester settlement.Attester
	if cfg.Attestation.Enabled {
		key, err := crypto.LoadKey(crypto.KeySource{
			RawPrivateKey:    cfg.Attestation.PrivateKey,
			EncryptedKeyPath: cfg.Attestation.EncryptedKeyPath,
			KeyPassword:      cfg.Attestation.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: attestation key: %w", err)
		}
		a, err := crypto.NewAttester(key)
		if err != nil {
			return nil, fmt.Errorf("wire: attester: %w", err)
		}
		logger.Info("settlement attestation enabled", slog.String("signer", a.Address()))
		attester = a
	}

	// Validate has already checked both parse.
	fees := settlement.FeePolicy{
		MinimumFee: decimal.RequireFromString(sc.MinimumFee),
		Rate:       decimal.RequireFromString(sc.FeeRate),
	}
	return settlement.NewAdapter(backend, attester, fees, sc.Currency, metrics, logger), nil
}
