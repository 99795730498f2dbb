package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// BalanceReader reads the authoritative token balance for a wallet from the
// chain. The returned quantity is denominated in whole token units.
type BalanceReader interface {
	ReadBalance(ctx context.Context, walletAddress, tokenAddress string) (decimal.Decimal, error)
}

// SettlementClient triggers the on-chain token transfer for a verified order.
// Transfer is invoked at most once per verification; retries of failed
// settlements are an explicit administrative action.
type SettlementClient interface {
	Transfer(ctx context.Context, orderID string) (txHash string, err error)
}
