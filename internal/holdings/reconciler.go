// Package holdings reconciles locally cached holdings against authoritative
// on-chain balances and computes valuation views.
package holdings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jmoretti/tokenvest/internal/domain"
)

// priceCacheTTL bounds how stale a cached token price may be before the
// reconciler falls back to the token store.
const priceCacheTTL = 5 * time.Minute

// Reconciler overwrites local holding quantities with chain balances and
// recomputes derived valuation fields on every read.
type Reconciler struct {
	holdings domain.HoldingStore
	tokens   domain.TokenStore
	users    domain.UserStore
	chain    domain.BalanceReader
	prices   domain.PriceCache
	logger   *slog.Logger
	now      func() time.Time
}

// NewReconciler creates a Reconciler. prices may be nil, in which case every
// valuation reads the token store directly.
func NewReconciler(
	holdings domain.HoldingStore,
	tokens domain.TokenStore,
	users domain.UserStore,
	chain domain.BalanceReader,
	prices domain.PriceCache,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		holdings: holdings,
		tokens:   tokens,
		users:    users,
		chain:    chain,
		prices:   prices,
		logger:   logger.With(slog.String("component", "holdings")),
		now:      time.Now,
	}
}

// SyncResult reports the outcome of one reconciliation.
type SyncResult struct {
	Balance       decimal.Decimal
	CurrentValue  decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// SyncFromChain reads the authoritative balance for (user, token) and
// overwrites the local quantity with it. The overwrite is always absolute so
// any drift from missed or double-counted events self-heals. Derived fields
// are recomputed from the fresh quantity:
//
//	currentValue  = quantity x token.currentPrice
//	unrealizedPnl = currentValue - totalInvested
func (r *Reconciler) SyncFromChain(ctx context.Context, userID, tokenAddress string) (SyncResult, error) {
	token, err := r.tokens.GetByAddress(ctx, tokenAddress)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return SyncResult{}, domain.ErrNotFound
		}
		return SyncResult{}, fmt.Errorf("holdings: read token %s: %w", tokenAddress, err)
	}

	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return SyncResult{}, domain.ErrNotFound
		}
		return SyncResult{}, fmt.Errorf("holdings: read user %s: %w", userID, err)
	}

	holding, err := r.holdings.GetByUserAndToken(ctx, userID, token.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return SyncResult{}, domain.ErrNotFound
		}
		return SyncResult{}, fmt.Errorf("holdings: read holding %s/%s: %w", userID, token.ID, err)
	}

	balance, err := r.chain.ReadBalance(ctx, user.WalletAddress, tokenAddress)
	if err != nil {
		return SyncResult{}, fmt.Errorf("holdings: %w: read balance %s/%s: %v", domain.ErrChainUnavailable, user.WalletAddress, tokenAddress, err)
	}

	syncedAt := r.now().UTC()
	if err := r.holdings.OverwriteQuantity(ctx, holding.ID, balance, syncedAt); err != nil {
		return SyncResult{}, fmt.Errorf("holdings: overwrite quantity %s: %w", holding.ID, err)
	}

	price := r.currentPrice(ctx, token)
	value := balance.Mul(price)

	r.logger.InfoContext(ctx, "holding reconciled",
		slog.String("user_id", userID),
		slog.String("token", token.Symbol),
		slog.String("previous_quantity", holding.Quantity.String()),
		slog.String("chain_balance", balance.String()),
	)

	return SyncResult{
		Balance:       balance,
		CurrentValue:  value,
		UnrealizedPnL: value.Sub(holding.TotalInvested),
	}, nil
}

// Valuation returns the valuation view for all of a user's holdings. Derived
// fields are always recomputed from stored quantity and the latest price.
func (r *Reconciler) Valuation(ctx context.Context, userID string) ([]domain.HoldingValuation, error) {
	list, err := r.holdings.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("holdings: list for %s: %w", userID, err)
	}

	out := make([]domain.HoldingValuation, 0, len(list))
	for _, h := range list {
		token, err := r.tokens.GetByID(ctx, h.TokenID)
		if err != nil {
			return nil, fmt.Errorf("holdings: read token %s: %w", h.TokenID, err)
		}
		out = append(out, domain.Valuate(h, token.Symbol, r.currentPrice(ctx, token)))
	}
	return out, nil
}

// currentPrice reads through the price cache, falling back to the token
// store's price and refreshing the cache best-effort.
func (r *Reconciler) currentPrice(ctx context.Context, token domain.Token) decimal.Decimal {
	if r.prices != nil {
		price, ts, err := r.prices.GetPrice(ctx, token.ID)
		if err == nil && r.now().Sub(ts) < priceCacheTTL {
			return price
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.logger.WarnContext(ctx, "price cache read failed",
				slog.String("token", token.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.prices != nil {
		if err := r.prices.SetPrice(ctx, token.ID, token.CurrentPrice, r.now()); err != nil {
			r.logger.WarnContext(ctx, "price cache refresh failed",
				slog.String("token", token.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return token.CurrentPrice
}
