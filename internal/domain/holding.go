package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding caches a user's position in one token. Quantity mirrors the
// authoritative on-chain balance and is rewritten (never incremented) by the
// reconciler; AvgPurchasePrice and TotalInvested are local bookkeeping.
type Holding struct {
	ID               string
	UserID           string
	TokenID          string
	Quantity         decimal.Decimal
	AvgPurchasePrice decimal.Decimal
	TotalInvested    decimal.Decimal
	SyncedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HoldingValuation is the display view of a holding. CurrentValue and
// UnrealizedPnL are derived from the formulas below on every read; stored
// copies are only a cache.
//
//	CurrentValue  = Quantity x CurrentPrice
//	UnrealizedPnL = CurrentValue - TotalInvested
type HoldingValuation struct {
	Holding       Holding
	TokenSymbol   string
	CurrentPrice  decimal.Decimal
	CurrentValue  decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// Valuate computes the derived display fields for a holding at the given
// price.
func Valuate(h Holding, symbol string, price decimal.Decimal) HoldingValuation {
	value := h.Quantity.Mul(price)
	return HoldingValuation{
		Holding:       h,
		TokenSymbol:   symbol,
		CurrentPrice:  price,
		CurrentValue:  value,
		UnrealizedPnL: value.Sub(h.TotalInvested),
	}
}
