package invest

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically re-drives settlement for verified-but-unsettled
// orders. Retry policy: fixed interval, no backoff; orders that keep failing
// past alertAttempts are escalated at warn level for operator attention.
type Sweeper struct {
	pipeline      *Pipeline
	interval      time.Duration
	alertAttempts int
	logger        *slog.Logger
}

// NewSweeper creates a Sweeper over the given pipeline.
func NewSweeper(pipeline *Pipeline, interval time.Duration, alertAttempts int, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		pipeline:      pipeline,
		interval:      interval,
		alertAttempts: alertAttempts,
		logger:        logger.With(slog.String("component", "settlement_sweeper")),
	}
}

// Run sweeps until the context is cancelled. It should be called in a
// goroutine; the error is always the context's error.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	orders, err := s.pipeline.ListUnsettled(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "list unsettled orders failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(orders) == 0 {
		return
	}

	s.logger.InfoContext(ctx, "retrying unsettled orders", slog.Int("count", len(orders)))

	for _, order := range orders {
		if order.SettlementAttempts >= s.alertAttempts {
			s.logger.WarnContext(ctx, "order settlement repeatedly failing",
				slog.String("order_id", order.ID),
				slog.Int("attempts", order.SettlementAttempts),
			)
		}

		status := s.pipeline.settle(ctx, order.ID)
		s.logger.InfoContext(ctx, "settlement retried",
			slog.String("order_id", order.ID),
			slog.String("status", string(status)),
		)
	}
}
