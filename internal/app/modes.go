package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/alanyoungcy/cardpay/internal/pipeline"
	"github.com/alanyoungcy/cardpay/internal/server"
	"github.com/alanyoungcy/cardpay/internal/server/handler"
	"github.com/alanyoungcy/cardpay/internal/server/ws"
	"github.com/alanyoungcy/cardpay/internal/service"
)

// services holds the service layer shared by every mode.
type services struct {
	cards      *service.CardService
	purchases  *service.PurchaseService
	valuations *service.ValuationService
}

func (a *App) buildServices(deps *Dependencies) *services {
	cards := service.NewCardService(deps.CardStore, deps.CardCache, a.logger)
	authorizer := service.NewAuthorizer(deps.Aggregator, deps.Settlement, a.cfg.Settlement.Currency, a.logger)

	var notifier service.Notifier
	if deps.Notifier != nil {
		notifier = deps.Notifier
	}
	purchases := service.NewPurchaseService(
		cards, authorizer,
		deps.LockManager, deps.AuthorizationStore, deps.AuditStore,
		deps.SignalBus, notifier,
		a.cfg.Purchase.LockTTL.Duration, a.logger,
	)
	return &services{
		cards:      cards,
		purchases:  purchases,
		valuations: service.NewValuationService(cards, deps.Aggregator, a.logger),
	}
}

// seedCatalog upserts the cards in catalog.seed_file, if one is configured.
func (a *App) seedCatalog(ctx context.Context, svc *services) error {
	path := a.cfg.Catalog.SeedFile
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	var cards []domain.Card
	if err := json.Unmarshal(data, &cards); err != nil {
		return fmt.Errorf("seed catalog %s: %w", path, err)
	}
	if err := svc.cards.SaveCards(ctx, cards); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	a.logger.InfoContext(ctx, "catalog seeded", slog.String("path", path), slog.Int("cards", len(cards)))
	return nil
}

// ServerMode serves the HTTP API and the WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svc *services) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svc, nil)
	return g.Wait()
}

// AuthorizeMode runs one purchase from the [authorize] section and writes
// the result to stdout as JSON. A decision is printed even when the roster
// is empty.
func (a *App) AuthorizeMode(ctx context.Context, svc *services) error {
	req := a.cfg.Authorize
	a.logger.InfoContext(ctx, "starting authorize mode",
		slog.String("item", req.ItemID),
		slog.String("buyer", req.Buyer),
		slog.Bool("manual", req.Manual),
	)

	res, err := svc.purchases.Purchase(ctx, service.PurchaseInput{
		ItemID:    req.ItemID,
		Buyer:     req.Buyer,
		Automated: !req.Manual,
	})
	if err != nil && !errors.Is(err, domain.ErrNoEvaluators) {
		return fmt.Errorf("authorize: %w", err)
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(res); encErr != nil {
		return fmt.Errorf("authorize: write result: %w", encErr)
	}
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	return nil
}

// ArchiveMode exports old authorization history on the archive schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchiver(ctx, g, deps, nil); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the server and the archiver together; the server can
// trigger extra archive passes.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svc *services) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	archiveTriggerCh := make(chan struct{}, 1)
	if err := a.startArchiver(ctx, g, deps, archiveTriggerCh); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc, archiveTriggerCh)
	}
	return g.Wait()
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies, trigger <-chan struct{}) error {
	if deps.Archiver == nil {
		return errors.New("archiver requires s3")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	if _, err := pipeline.ParseSchedule(a.cfg.Archive.Cron); err != nil {
		return err
	}
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron, trigger)
	})
	return nil
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to g.
// The server is shut down gracefully when the context is cancelled.
// archiveTriggerCh is optional; when non-nil, POST /api/v1/archive/trigger
// sends on it.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services, archiveTriggerCh chan<- struct{}) {
	mode := strings.ToLower(a.cfg.Mode)

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:        mode,
			StartedAt:   a.startedAt,
			CORSOrigins: a.cfg.Server.CORSOrigins,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health:         handler.NewHealthHandler(mode, deps.Health, a.logger),
		Cards:          handler.NewCardHandler(svc.cards, svc.valuations, a.logger),
		Purchases:      handler.NewPurchaseHandler(svc.purchases, a.cfg.Purchase.DefaultAutomated, a.logger),
		Authorizations: handler.NewAuthorizationHandler(svc.purchases, a.logger),
		Settlements:    handler.NewSettlementHandler(deps.Settlement, a.cfg.Settlement.Currency, a.logger),
	}
	if archiveTriggerCh != nil {
		handlers.Archive = handler.NewArchiveHandler(archiveTriggerCh, a.logger)
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
