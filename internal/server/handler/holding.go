package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoretti/tokenvest/internal/auth"
	"github.com/jmoretti/tokenvest/internal/domain"
	"github.com/jmoretti/tokenvest/internal/holdings"
)

// HoldingService defines the methods the holdings handler requires from the
// reconciler.
type HoldingService interface {
	Valuation(ctx context.Context, userID string) ([]domain.HoldingValuation, error)
	SyncFromChain(ctx context.Context, userID, tokenAddress string) (holdings.SyncResult, error)
}

// HoldingHandler serves portfolio endpoints.
type HoldingHandler struct {
	service HoldingService
	limiter domain.RateLimiter
	logger  *slog.Logger
}

// NewHoldingHandler creates a HoldingHandler. The limiter enforces the
// sensitive-submission policy on chain sync requests.
func NewHoldingHandler(service HoldingService, limiter domain.RateLimiter, logger *slog.Logger) *HoldingHandler {
	return &HoldingHandler{
		service: service,
		limiter: limiter,
		logger:  logger,
	}
}

// holdingResponse is the JSON view of a valued holding. Monetary fields are
// rounded to two decimal places for display; quantity and price keep full
// precision.
type holdingResponse struct {
	TokenID       string     `json:"tokenId"`
	TokenSymbol   string     `json:"tokenSymbol"`
	Quantity      string     `json:"quantity"`
	CurrentPrice  string     `json:"currentPrice"`
	CurrentValue  string     `json:"currentValue"`
	TotalInvested string     `json:"totalInvested"`
	UnrealizedPnL string     `json:"unrealizedPnl"`
	SyncedAt      *time.Time `json:"syncedAt,omitempty"`
}

// List returns the caller's holdings with derived valuation fields.
// GET /api/holdings  (self)
func (h *HoldingHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthenticated)
		return
	}

	valuations, err := h.service.Valuation(r.Context(), principal.UserID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	items := make([]holdingResponse, 0, len(valuations))
	for _, v := range valuations {
		items = append(items, holdingResponse{
			TokenID:       v.Holding.TokenID,
			TokenSymbol:   v.TokenSymbol,
			Quantity:      v.Holding.Quantity.String(),
			CurrentPrice:  v.CurrentPrice.String(),
			CurrentValue:  v.CurrentValue.StringFixed(2),
			TotalInvested: v.Holding.TotalInvested.StringFixed(2),
			UnrealizedPnL: v.UnrealizedPnL.StringFixed(2),
			SyncedAt:      v.Holding.SyncedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"holdings": items,
	})
}

// Sync reconciles the caller's holding for a token against the on-chain
// balance and returns the refreshed figures.
// POST /api/holdings/{tokenAddress}/sync  (self)
func (h *HoldingHandler) Sync(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthenticated)
		return
	}

	tokenAddress := pathParam(r, "tokenAddress")
	if tokenAddress == "" {
		writeError(w, http.StatusBadRequest, "missing token address")
		return
	}

	if h.limiter != nil {
		res, err := h.limiter.Check(r.Context(), "sensitive:user:"+principal.UserID, domain.PolicySensitiveSubmission)
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: rate limiter unavailable",
				slog.String("error", err.Error()),
			)
		} else if !res.Allowed {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	result, err := h.service.SyncFromChain(r.Context(), principal.UserID, tokenAddress)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"tokenAddress":  tokenAddress,
		"quantity":      result.Balance.String(),
		"currentValue":  result.CurrentValue.StringFixed(2),
		"unrealizedPnl": result.UnrealizedPnL.StringFixed(2),
	})
}
