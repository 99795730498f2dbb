package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus tracks the payment-verification lifecycle of an investment
// order. The transition pending -> {verified, rejected} happens at most once;
// both outcomes are terminal.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentVerified PaymentStatus = "verified"
	PaymentRejected PaymentStatus = "rejected"
)

// SettlementStatus tracks the on-chain token transfer that follows payment
// verification. It is empty until the order is verified.
type SettlementStatus string

const (
	SettlementPending SettlementStatus = "pending"
	SettlementSettled SettlementStatus = "settled"
	SettlementFailed  SettlementStatus = "failed"
)

// InvestmentOrder records a user's intent to purchase token units and the
// admin decision on the off-chain payment backing it.
type InvestmentOrder struct {
	ID            string
	UserID        string
	TokenID       string
	Quantity      decimal.Decimal
	AmountPaid    decimal.Decimal
	PaymentRef    string
	PaymentStatus PaymentStatus
	Notes         string
	VerifiedBy    *string
	VerifiedAt    *time.Time

	SettlementStatus   SettlementStatus
	SettlementTxHash   *string
	SettlementAttempts int
	SettledAt          *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Unsettled reports whether the order is verified but its token transfer has
// not completed.
func (o InvestmentOrder) Unsettled() bool {
	return o.PaymentStatus == PaymentVerified && o.SettlementStatus != SettlementSettled
}
