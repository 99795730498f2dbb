package domain

import "time"

// Role distinguishes ordinary investors from platform administrators.
type Role string

const (
	RoleInvestor Role = "investor"
	RoleAdmin    Role = "admin"
)

// KycStatus is the aggregate verification state of a user, derived from the
// user's full document set. It is written exclusively by the KYC aggregator.
type KycStatus string

const (
	KycPending  KycStatus = "pending"
	KycApproved KycStatus = "approved"
	KycRejected KycStatus = "rejected"
)

// User is a platform account. WalletAddress is the on-chain address holdings
// are reconciled against.
type User struct {
	ID            string
	Email         string
	Role          Role
	KycStatus     KycStatus
	WalletAddress string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
