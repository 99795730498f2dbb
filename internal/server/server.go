// Package server assembles the HTTP + WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoretti/tokenvest/internal/auth"
	"github.com/jmoretti/tokenvest/internal/domain"
	"github.com/jmoretti/tokenvest/internal/server/handler"
	"github.com/jmoretti/tokenvest/internal/server/middleware"
	"github.com/jmoretti/tokenvest/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Kyc      *handler.KycHandler
	Orders   *handler.OrderHandler
	Holdings *handler.HoldingHandler
	Audit    *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server for the investment platform.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. The health endpoint
// is public; everything else sits behind token authentication. The general
// API rate limit applies to all routes.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, verifier *auth.Verifier, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	api := http.NewServeMux()

	// KYC endpoints.
	api.HandleFunc("POST /api/kyc/recompute/{userID}", handlers.Kyc.Recompute)
	api.HandleFunc("POST /api/kyc/recompute", handlers.Kyc.BatchRecompute)
	api.HandleFunc("GET /api/kyc/status", handlers.Kyc.Status)

	// Order verification and settlement endpoints.
	api.HandleFunc("GET /api/orders", handlers.Orders.ListMine)
	api.HandleFunc("POST /api/orders/{id}/verify", handlers.Orders.VerifyPayment)
	api.HandleFunc("GET /api/orders/unsettled", handlers.Orders.ListUnsettled)
	api.HandleFunc("POST /api/orders/{id}/settlement/retry", handlers.Orders.RetrySettlement)

	// Portfolio endpoints.
	api.HandleFunc("GET /api/holdings", handlers.Holdings.List)
	api.HandleFunc("POST /api/holdings/{tokenAddress}/sync", handlers.Holdings.Sync)

	// Audit log.
	api.HandleFunc("GET /api/audit", handlers.Audit.List)

	// WebSocket event stream.
	if wsHub != nil {
		api.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	authenticated := middleware.Auth(verifier, limiter)(api)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("/api/", authenticated)
	mux.Handle("/ws", authenticated)

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter, domain.PolicyGeneralAPI)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
