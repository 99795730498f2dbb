package holdings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jmoretti/tokenvest/internal/domain"
)

type stubHoldingStore struct {
	holdings   map[string]domain.Holding // keyed by userID+"/"+tokenID
	overwrites []decimal.Decimal
	err        error
}

func (s *stubHoldingStore) GetByUserAndToken(ctx context.Context, userID, tokenID string) (domain.Holding, error) {
	h, ok := s.holdings[userID+"/"+tokenID]
	if !ok {
		return domain.Holding{}, domain.ErrNotFound
	}
	return h, nil
}

func (s *stubHoldingStore) OverwriteQuantity(ctx context.Context, id string, quantity decimal.Decimal, syncedAt time.Time) error {
	if s.err != nil {
		return s.err
	}
	s.overwrites = append(s.overwrites, quantity)
	for k, h := range s.holdings {
		if h.ID == id {
			h.Quantity = quantity
			h.SyncedAt = &syncedAt
			s.holdings[k] = h
		}
	}
	return nil
}

func (s *stubHoldingStore) ListByUser(ctx context.Context, userID string) ([]domain.Holding, error) {
	var out []domain.Holding
	for _, h := range s.holdings {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

type stubTokenStore struct {
	tokens map[string]domain.Token // keyed by both ID and address
}

func (s *stubTokenStore) GetByID(ctx context.Context, id string) (domain.Token, error) {
	t, ok := s.tokens[id]
	if !ok {
		return domain.Token{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *stubTokenStore) GetByAddress(ctx context.Context, addr string) (domain.Token, error) {
	t, ok := s.tokens[addr]
	if !ok {
		return domain.Token{}, domain.ErrNotFound
	}
	return t, nil
}

type stubUserStore struct {
	users map[string]domain.User
}

func (s *stubUserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *stubUserStore) UpdateKycStatus(ctx context.Context, id string, status domain.KycStatus) error {
	return nil
}

type stubBalanceReader struct {
	balance decimal.Decimal
	err     error
	calls   int
}

func (s *stubBalanceReader) ReadBalance(ctx context.Context, wallet, token string) (decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.balance, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

const tokenAddr = "0x1111111111111111111111111111111111111111"

func fixtures(localQty, totalInvested, price string) (*stubHoldingStore, *stubTokenStore, *stubUserStore) {
	holdings := &stubHoldingStore{holdings: map[string]domain.Holding{
		"u1/tok-1": {
			ID:            "h1",
			UserID:        "u1",
			TokenID:       "tok-1",
			Quantity:      dec(localQty),
			TotalInvested: dec(totalInvested),
		},
	}}
	token := domain.Token{
		ID:              "tok-1",
		Symbol:          "FARM",
		ContractAddress: tokenAddr,
		CurrentPrice:    dec(price),
	}
	tokens := &stubTokenStore{tokens: map[string]domain.Token{
		"tok-1":   token,
		tokenAddr: token,
	}}
	users := &stubUserStore{users: map[string]domain.User{
		"u1": {ID: "u1", WalletAddress: "0x2222222222222222222222222222222222222222"},
	}}
	return holdings, tokens, users
}

func TestSyncFromChainOverwritesAbsolutely(t *testing.T) {
	tests := []struct {
		name     string
		localQty string
		chainBal string
	}{
		{"stale low local value", "10", "42.5"},
		{"stale high local value", "999.99", "42.5"},
		{"zero local value", "0", "42.5"},
		{"chain reports zero", "10", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			holdings, tokens, users := fixtures(tt.localQty, "100", "2")
			chain := &stubBalanceReader{balance: dec(tt.chainBal)}
			r := NewReconciler(holdings, tokens, users, chain, nil, testLogger())

			res, err := r.SyncFromChain(context.Background(), "u1", tokenAddr)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.Balance.Equal(dec(tt.chainBal)) {
				t.Errorf("balance = %s, want %s", res.Balance, tt.chainBal)
			}

			stored := holdings.holdings["u1/tok-1"]
			if !stored.Quantity.Equal(dec(tt.chainBal)) {
				t.Errorf("stored quantity = %s, want %s", stored.Quantity, tt.chainBal)
			}
			if stored.SyncedAt == nil {
				t.Error("syncedAt not recorded")
			}
		})
	}
}

func TestSyncFromChainValuationFormulas(t *testing.T) {
	holdings, tokens, users := fixtures("1", "150.75", "10.10")
	chain := &stubBalanceReader{balance: dec("25.5")}
	r := NewReconciler(holdings, tokens, users, chain, nil, testLogger())

	res, err := r.SyncFromChain(context.Background(), "u1", tokenAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 25.5 * 10.10 = 257.55; 257.55 - 150.75 = 106.80. Decimal math must be
	// exact, not approximately equal.
	if got := res.CurrentValue.String(); got != "257.55" {
		t.Errorf("currentValue = %s, want 257.55", got)
	}
	if !res.UnrealizedPnL.Equal(dec("106.80")) {
		t.Errorf("unrealizedPnl = %s, want 106.80", res.UnrealizedPnL)
	}
}

func TestSyncFromChainRepeatedReconciliationIsStable(t *testing.T) {
	holdings, tokens, users := fixtures("0.3", "1", "0.1")
	chain := &stubBalanceReader{balance: dec("0.3")}
	r := NewReconciler(holdings, tokens, users, chain, nil, testLogger())

	var last SyncResult
	for i := 0; i < 100; i++ {
		res, err := r.SyncFromChain(context.Background(), "u1", tokenAddr)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		last = res
	}

	// 0.3 * 0.1 must stay exactly 0.03 over repeated reconciliations.
	if !last.CurrentValue.Equal(dec("0.03")) {
		t.Errorf("currentValue drifted to %s", last.CurrentValue)
	}
	if !holdings.holdings["u1/tok-1"].Quantity.Equal(dec("0.3")) {
		t.Errorf("quantity drifted to %s", holdings.holdings["u1/tok-1"].Quantity)
	}
}

func TestSyncFromChainErrors(t *testing.T) {
	t.Run("chain unavailable", func(t *testing.T) {
		holdings, tokens, users := fixtures("1", "1", "1")
		chain := &stubBalanceReader{err: errors.New("rpc timeout")}
		r := NewReconciler(holdings, tokens, users, chain, nil, testLogger())

		_, err := r.SyncFromChain(context.Background(), "u1", tokenAddr)
		if !errors.Is(err, domain.ErrChainUnavailable) {
			t.Errorf("expected ErrChainUnavailable, got %v", err)
		}
		if len(holdings.overwrites) != 0 {
			t.Error("quantity must not be touched when the chain read fails")
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		holdings, tokens, users := fixtures("1", "1", "1")
		r := NewReconciler(holdings, tokens, users, &stubBalanceReader{}, nil, testLogger())
		if _, err := r.SyncFromChain(context.Background(), "u1", "0x9999999999999999999999999999999999999999"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("no holding", func(t *testing.T) {
		holdings, tokens, users := fixtures("1", "1", "1")
		delete(holdings.holdings, "u1/tok-1")
		r := NewReconciler(holdings, tokens, users, &stubBalanceReader{}, nil, testLogger())
		if _, err := r.SyncFromChain(context.Background(), "u1", tokenAddr); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestValuation(t *testing.T) {
	holdings, tokens, users := fixtures("7", "50", "3.25")
	r := NewReconciler(holdings, tokens, users, &stubBalanceReader{}, nil, testLogger())

	vals, err := r.Valuation(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vals) != 1 {
		t.Fatalf("got %d valuations, want 1", len(vals))
	}

	v := vals[0]
	if v.TokenSymbol != "FARM" {
		t.Errorf("symbol = %q", v.TokenSymbol)
	}
	if !v.CurrentValue.Equal(dec("22.75")) {
		t.Errorf("currentValue = %s, want 22.75", v.CurrentValue)
	}
	if !v.UnrealizedPnL.Equal(dec("-27.25")) {
		t.Errorf("unrealizedPnl = %s, want -27.25", v.UnrealizedPnL)
	}
}
