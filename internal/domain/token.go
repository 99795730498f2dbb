package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Token is the on-chain representation of a real-world asset. Read-only
// reference data for this core.
type Token struct {
	ID              string
	Symbol          string
	Name            string
	ContractAddress string
	Decimals        int32
	CurrentPrice    decimal.Decimal
	PriceUpdatedAt  time.Time
	CreatedAt       time.Time
}
