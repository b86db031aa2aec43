// Package server exposes the purchase API over HTTP and streams
// authorization events over WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/alanyoungcy/cardpay/internal/server/handler"
	"github.com/alanyoungcy/cardpay/internal/server/middleware"
	"github.com/alanyoungcy/cardpay/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health         *handler.HealthHandler
	Cards          *handler.CardHandler
	Purchases      *handler.PurchaseHandler
	Authorizations *handler.AuthorizationHandler
	Settlements    *handler.SettlementHandler
	Archive        *handler.ArchiveHandler // nil unless the archiver runs in-process
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Catalog.
	mux.HandleFunc("GET /api/v1/cards", handlers.Cards.ListCards)
	mux.HandleFunc("GET /api/v1/cards/{id}", handlers.Cards.GetCard)
	mux.HandleFunc("GET /api/v1/cards/{id}/ai-valuation", handlers.Cards.AIValuation)

	// Purchase authorization.
	mux.HandleFunc("POST /api/v1/cards/{id}/purchase", handlers.Purchases.Purchase)
	mux.HandleFunc("GET /api/v1/authorizations", handlers.Authorizations.ListAuthorizations)
	mux.HandleFunc("GET /api/v1/authorizations/{id}", handlers.Authorizations.GetAuthorization)

	// Settlement. The literal fee route is more specific than {id}.
	mux.HandleFunc("GET /api/v1/settlements/fee", handlers.Settlements.EstimateFee)
	mux.HandleFunc("GET /api/v1/settlements/{id}", handlers.Settlements.Status)

	if handlers.Archive != nil {
		mux.HandleFunc("POST /api/v1/archive/trigger", handlers.Archive.Trigger)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return otelhttp.NewHandler(h, "cardpay.http")
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
