package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UserStore persists user accounts. KycStatus writes go through
// UpdateKycStatus only.
type UserStore interface {
	GetByID(ctx context.Context, id string) (User, error)
	UpdateKycStatus(ctx context.Context, id string, status KycStatus) error
}

// KycDocumentStore reads the submitted document set for a user. Order of the
// returned slice is not significant.
type KycDocumentStore interface {
	ListByUser(ctx context.Context, userID string) ([]KycDocument, error)
}

// OrderStore persists investment orders.
//
// TransitionPayment performs the conditional update that selects exactly one
// winner among concurrent verification attempts: the write succeeds only if
// the order's current payment status still equals from. It returns false with
// a nil error when the condition did not match (caller re-reads to
// distinguish a missing order from a terminal one).
type OrderStore interface {
	GetByID(ctx context.Context, id string) (InvestmentOrder, error)
	TransitionPayment(ctx context.Context, id string, from, to PaymentStatus, verifiedBy, notes string) (bool, error)
	UpdateSettlement(ctx context.Context, id string, status SettlementStatus, txHash *string) error
	ListUnsettled(ctx context.Context) ([]InvestmentOrder, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]InvestmentOrder, error)
}

// HoldingStore persists holdings. OverwriteQuantity replaces the cached
// quantity with the chain-reported balance; it never applies deltas.
type HoldingStore interface {
	GetByUserAndToken(ctx context.Context, userID, tokenID string) (Holding, error)
	OverwriteQuantity(ctx context.Context, id string, quantity decimal.Decimal, syncedAt time.Time) error
	ListByUser(ctx context.Context, userID string) ([]Holding, error)
}

// TokenStore reads token reference data.
type TokenStore interface {
	GetByID(ctx context.Context, id string) (Token, error)
	GetByAddress(ctx context.Context, contractAddress string) (Token, error)
}

// AuditEntry is a single append-only audit fact.
type AuditEntry struct {
	ID        int64
	Event     string
	Actor     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists the append-only audit log. Entries are never mutated
// or deleted by this core.
type AuditStore interface {
	Append(ctx context.Context, event, actor string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
