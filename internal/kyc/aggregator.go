// Package kyc derives a user's aggregate KYC status from the set of
// individually reviewed documents. The aggregator is the single writer of
// User.KycStatus.
package kyc

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/jmoretti/tokenvest/internal/domain"
)

// Aggregator recomputes and persists aggregate KYC statuses.
type Aggregator struct {
	docs     domain.KycDocumentStore
	users    domain.UserStore
	notifier domain.UserNotifier
	group    singleflight.Group
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator over the given stores. The notifier
// receives a best-effort event whenever a recompute changes the stored
// status.
func NewAggregator(docs domain.KycDocumentStore, users domain.UserStore, notifier domain.UserNotifier, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		docs:     docs,
		users:    users,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "kyc")),
	}
}

// Recompute derives the aggregate status from the user's current document
// set, writes it to the user record, and returns it. Concurrent calls for the
// same user are collapsed into a single flight so a document set being
// appended to is never read twice mid-change by racing recomputes.
func (a *Aggregator) Recompute(ctx context.Context, userID string) (domain.KycStatus, error) {
	v, err, _ := a.group.Do(userID, func() (any, error) {
		return a.recompute(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	return v.(domain.KycStatus), nil
}

func (a *Aggregator) recompute(ctx context.Context, userID string) (domain.KycStatus, error) {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("kyc: read user %s: %w", userID, err)
	}

	docs, err := a.docs.ListByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("kyc: list documents for %s: %w", userID, err)
	}

	status := Aggregate(docs)

	if err := a.users.UpdateKycStatus(ctx, userID, status); err != nil {
		return "", fmt.Errorf("kyc: write status for %s: %w", userID, err)
	}

	a.logger.InfoContext(ctx, "kyc status recomputed",
		slog.String("user_id", userID),
		slog.String("status", string(status)),
		slog.Int("documents", len(docs)),
	)

	if status != user.KycStatus {
		a.notifyChange(ctx, userID, user.KycStatus, status)
	}
	return status, nil
}

// notifyChange informs the user their aggregate status moved. Best-effort.
func (a *Aggregator) notifyChange(ctx context.Context, userID string, from, to domain.KycStatus) {
	if a.notifier == nil {
		return
	}
	message := fmt.Sprintf("Your verification status changed from %s to %s.", from, to)
	if err := a.notifier.NotifyUser(ctx, userID, "kyc.status_changed", "KYC status updated", message); err != nil {
		a.logger.WarnContext(ctx, "kyc notification failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// Aggregate applies the status rule to a document set: approval requires
// unanimity, a single rejection overrides any mix, and everything else
// (including an empty set) is pending. The rule is a pure function of the
// set, so recomputation is idempotent.
func Aggregate(docs []domain.KycDocument) domain.KycStatus {
	if len(docs) == 0 {
		return domain.KycPending
	}

	allApproved := true
	anyRejected := false
	for _, d := range docs {
		if d.Status != domain.DocumentApproved {
			allApproved = false
		}
		if d.Status == domain.DocumentRejected {
			anyRejected = true
		}
	}

	switch {
	case allApproved:
		return domain.KycApproved
	case anyRejected:
		return domain.KycRejected
	default:
		return domain.KycPending
	}
}

// BatchResult is the per-user outcome of a batch recompute.
type BatchResult struct {
	UserID string
	Status domain.KycStatus
	Err    error
}

// BatchRecompute recomputes statuses for the given users strictly in order.
// A failure for one user is recorded in its result and does not stop the
// remaining users from being processed.
func (a *Aggregator) BatchRecompute(ctx context.Context, userIDs []string) []BatchResult {
	results := make([]BatchResult, 0, len(userIDs))
	for _, id := range userIDs {
		status, err := a.Recompute(ctx, id)
		if err != nil {
			a.logger.ErrorContext(ctx, "kyc batch recompute failed",
				slog.String("user_id", id),
				slog.String("error", err.Error()),
			)
			results = append(results, BatchResult{UserID: id, Err: err})
			continue
		}
		results = append(results, BatchResult{UserID: id, Status: status})
	}
	return results
}
