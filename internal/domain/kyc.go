package domain

import "time"

// DocumentStatus is the review state of a single KYC document.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentApproved DocumentStatus = "approved"
	DocumentRejected DocumentStatus = "rejected"
)

// KycDocument is one submitted identity document. Documents are created by
// the upload flow and reviewed by admins; this core only reads the resulting
// statuses to derive the user's aggregate KycStatus.
type KycDocument struct {
	ID          string
	UserID      string
	Type        string // e.g. "passport", "utility_bill"
	Status      DocumentStatus
	SubmittedAt time.Time
	ReviewedAt  *time.Time
	ReviewedBy  *string
}
