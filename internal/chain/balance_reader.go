// Package chain reads authoritative token balances from an EVM chain and
// triggers settlements through the custody transfer service. Transaction
// signing lives entirely in the custody service; this package never touches
// keys.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/jmoretti/tokenvest/internal/domain"
)

// erc20ABI covers the two read-only methods the reader needs.
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// BalanceReader implements domain.BalanceReader against a JSON-RPC endpoint.
type BalanceReader struct {
	eth *ethclient.Client
	abi abi.ABI

	mu       sync.RWMutex
	decimals map[common.Address]int32
}

// NewBalanceReader dials the RPC endpoint and verifies connectivity by
// fetching the chain ID.
func NewBalanceReader(ctx context.Context, rpcURL string) (*BalanceReader, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}

	if _, err := eth.ChainID(ctx); err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: parse erc20 abi: %w", err)
	}

	return &BalanceReader{
		eth:      eth,
		abi:      parsed,
		decimals: make(map[common.Address]int32),
	}, nil
}

// Close releases the RPC connection.
func (r *BalanceReader) Close() {
	r.eth.Close()
}

// ReadBalance returns the wallet's balance of the token in whole token units,
// scaling the raw uint256 by the contract's decimals.
func (r *BalanceReader) ReadBalance(ctx context.Context, walletAddress, tokenAddress string) (decimal.Decimal, error) {
	if !common.IsHexAddress(walletAddress) {
		return decimal.Zero, fmt.Errorf("%w: wallet address %q", domain.ErrInvalidInput, walletAddress)
	}
	if !common.IsHexAddress(tokenAddress) {
		return decimal.Zero, fmt.Errorf("%w: token address %q", domain.ErrInvalidInput, tokenAddress)
	}

	wallet := common.HexToAddress(walletAddress)
	token := common.HexToAddress(tokenAddress)

	raw, err := r.call(ctx, token, "balanceOf", wallet)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: balanceOf %s: %w", tokenAddress, err)
	}

	var balance *big.Int
	if err := r.abi.UnpackIntoInterface(&balance, "balanceOf", raw); err != nil {
		return decimal.Zero, fmt.Errorf("chain: unpack balanceOf: %w", err)
	}

	dec, err := r.tokenDecimals(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromBigInt(balance, -dec), nil
}

// tokenDecimals reads and memoizes the contract's decimals.
func (r *BalanceReader) tokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	r.mu.RLock()
	dec, ok := r.decimals[token]
	r.mu.RUnlock()
	if ok {
		return dec, nil
	}

	raw, err := r.call(ctx, token, "decimals")
	if err != nil {
		return 0, fmt.Errorf("chain: decimals %s: %w", token.Hex(), err)
	}

	var d uint8
	if err := r.abi.UnpackIntoInterface(&d, "decimals", raw); err != nil {
		return 0, fmt.Errorf("chain: unpack decimals: %w", err)
	}

	r.mu.Lock()
	r.decimals[token] = int32(d)
	r.mu.Unlock()
	return int32(d), nil
}

func (r *BalanceReader) call(ctx context.Context, to common.Address, method string, args ...any) ([]byte, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := r.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.BalanceReader = (*BalanceReader)(nil)
