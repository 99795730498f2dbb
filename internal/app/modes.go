package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmoretti/tokenvest/internal/auth"
	"github.com/jmoretti/tokenvest/internal/config"
	"github.com/jmoretti/tokenvest/internal/domain"
	"github.com/jmoretti/tokenvest/internal/holdings"
	"github.com/jmoretti/tokenvest/internal/invest"
	"github.com/jmoretti/tokenvest/internal/kyc"
	"github.com/jmoretti/tokenvest/internal/server"
	"github.com/jmoretti/tokenvest/internal/server/handler"
	"github.com/jmoretti/tokenvest/internal/server/ws"
)

// ServeMode runs the HTTP + WebSocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	a.startLimiterSweeper(ctx, g, deps)

	return waitGroup(g)
}

// SweepMode runs only the background workers: the settlement-retry sweeper
// and, when enabled, the audit archiver.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSweeper(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	a.startLimiterSweeper(ctx, g, deps)

	return waitGroup(g)
}

// FullMode runs the API server and all background workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	a.startSweeper(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	a.startLimiterSweeper(ctx, g, deps)

	return waitGroup(g)
}

// buildPipeline assembles the order verification pipeline from wired
// dependencies.
func (a *App) buildPipeline(deps *Dependencies) *invest.Pipeline {
	return invest.NewPipeline(
		deps.OrderStore,
		deps.SettlementClient,
		deps.AuditStore,
		deps.Notifier,
		a.cfg.Chain.SettlementTimeout.Duration,
		a.logger,
	)
}

// startServer registers the HTTP server and WebSocket hub on the group.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		return
	}

	aggregator := kyc.NewAggregator(deps.KycDocStore, deps.UserStore, deps.Notifier, a.logger)
	pipeline := a.buildPipeline(deps)
	reconciler := holdings.NewReconciler(
		deps.HoldingStore,
		deps.TokenStore,
		deps.UserStore,
		deps.BalanceReader,
		deps.PriceCache,
		a.logger,
	)

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	verifier := auth.NewVerifier(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer)

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(),
			Kyc:      handler.NewKycHandler(aggregator, deps.UserStore, a.logger),
			Orders:   handler.NewOrderHandler(pipeline, deps.RateLimiter, a.logger),
			Holdings: handler.NewHoldingHandler(reconciler, deps.RateLimiter, a.logger),
			Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
		},
		hub,
		verifier,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startSweeper registers the settlement-retry sweeper on the group.
func (a *App) startSweeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Sweeper.Enabled {
		return
	}

	sweeper := invest.NewSweeper(
		a.buildPipeline(deps),
		a.cfg.Sweeper.Interval.Duration,
		a.cfg.Sweeper.AlertAttempts,
		a.logger,
	)
	g.Go(func() error {
		err := sweeper.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// startArchiver registers the periodic audit-log export on the group. A
// distributed lock keeps concurrent replicas from exporting the same pages.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.AuditArchiver == nil {
		return
	}

	cfg := a.cfg.Archive
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Interval.Duration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.runArchive(ctx, deps, cfg)
			}
		}
	})
}

// runArchive performs one audit export under the archive lock. Failures are
// logged and retried on the next tick.
func (a *App) runArchive(ctx context.Context, deps *Dependencies, cfg config.ArchiveConfig) {
	release, err := deps.LockManager.Acquire(ctx, "audit_archive", cfg.Interval.Duration/2)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.DebugContext(ctx, "audit archive lock held elsewhere, skipping")
		} else {
			a.logger.WarnContext(ctx, "audit archive lock unavailable",
				slog.String("error", err.Error()),
			)
		}
		return
	}
	defer release()

	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays)
	n, err := deps.AuditArchiver.Archive(ctx, nil, &cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "audit archive failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "audit archive completed", slog.Int("entries", n))
	}
}

// startLimiterSweeper runs the expired-window sweeper when the in-memory
// rate limiter backend is in use.
func (a *App) startLimiterSweeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.memoryLimiter == nil {
		return
	}
	g.Go(func() error {
		deps.memoryLimiter.StartSweeper(ctx, 5*time.Minute, a.logger)
		return ctx.Err()
	})
}

// waitGroup waits for the errgroup and normalizes context cancellation to a
// clean exit.
func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
