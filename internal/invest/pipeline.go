// Package invest drives investment orders from payment-pending to a terminal
// verification state and triggers on-chain settlement for verified orders.
package invest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoretti/tokenvest/internal/domain"
)

// Pipeline verifies order payments and settles verified orders.
//
// The durable fact is the payment-status transition; settlement, audit, and
// notification are downstream effects whose failures never roll back or fail
// the verification itself.
type Pipeline struct {
	orders        domain.OrderStore
	settler       domain.SettlementClient
	audit         domain.AuditStore
	notifier      domain.UserNotifier
	settleTimeout time.Duration
	logger        *slog.Logger
}

// NewPipeline creates a Pipeline. settleTimeout bounds each settlement
// attempt; a timeout is treated like any other settlement failure.
func NewPipeline(
	orders domain.OrderStore,
	settler domain.SettlementClient,
	audit domain.AuditStore,
	notifier domain.UserNotifier,
	settleTimeout time.Duration,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		orders:        orders,
		settler:       settler,
		audit:         audit,
		notifier:      notifier,
		settleTimeout: settleTimeout,
		logger:        logger.With(slog.String("component", "invest")),
	}
}

// VerifyResult is the outcome of a verification call.
type VerifyResult struct {
	OrderID          string
	NewStatus        domain.PaymentStatus
	SettlementStatus domain.SettlementStatus
}

// VerifyPayment transitions the order from pending to the given decision.
// Exactly one of any number of concurrent calls wins the conditional update;
// the rest receive a StateTransitionError carrying the order's current
// status. On a verified decision the settlement transfer is triggered once;
// its failure leaves the order verified with settlement status "failed",
// queryable via ListUnsettled and re-drivable via RetrySettlement.
func (p *Pipeline) VerifyPayment(ctx context.Context, adminID, orderID string, decision domain.PaymentStatus, notes string) (VerifyResult, error) {
	if decision != domain.PaymentVerified && decision != domain.PaymentRejected {
		return VerifyResult{}, fmt.Errorf("%w: decision must be %q or %q", domain.ErrInvalidInput, domain.PaymentVerified, domain.PaymentRejected)
	}

	won, err := p.orders.TransitionPayment(ctx, orderID, domain.PaymentPending, decision, adminID, notes)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("invest: transition order %s: %w", orderID, err)
	}
	if !won {
		order, err := p.orders.GetByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return VerifyResult{}, domain.ErrNotFound
			}
			return VerifyResult{}, fmt.Errorf("invest: read order %s: %w", orderID, err)
		}
		return VerifyResult{}, &domain.StateTransitionError{OrderID: orderID, Current: order.PaymentStatus}
	}

	res := VerifyResult{OrderID: orderID, NewStatus: decision}

	if decision == domain.PaymentVerified {
		res.SettlementStatus = p.settle(ctx, orderID)
	}

	// Re-read for the user ID; the transition itself is already durable, so
	// a failed read only degrades the side effects below.
	order, readErr := p.orders.GetByID(ctx, orderID)
	if readErr != nil {
		p.logger.ErrorContext(ctx, "order re-read after verification failed",
			slog.String("order_id", orderID),
			slog.String("error", readErr.Error()),
		)
	}

	p.auditVerification(ctx, adminID, orderID, decision, notes)

	if readErr == nil {
		p.notifyDecision(ctx, order, decision)
	}

	return res, nil
}

// settle runs one bounded settlement attempt and records the outcome on the
// order. The returned status is what the order was updated to.
func (p *Pipeline) settle(ctx context.Context, orderID string) domain.SettlementStatus {
	settleCtx, cancel := context.WithTimeout(ctx, p.settleTimeout)
	defer cancel()

	txHash, err := p.settler.Transfer(settleCtx, orderID)
	if err != nil {
		p.logger.ErrorContext(ctx, "settlement transfer failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		if uerr := p.orders.UpdateSettlement(ctx, orderID, domain.SettlementFailed, nil); uerr != nil {
			p.logger.ErrorContext(ctx, "record settlement failure failed",
				slog.String("order_id", orderID),
				slog.String("error", uerr.Error()),
			)
		}
		p.auditEvent(ctx, "order.settlement_failed", "system", map[string]any{
			"order_id": orderID,
			"error":    err.Error(),
		})
		return domain.SettlementFailed
	}

	if err := p.orders.UpdateSettlement(ctx, orderID, domain.SettlementSettled, &txHash); err != nil {
		// The transfer succeeded; only the local record is stale. The sweeper
		// will reconcile it from ListUnsettled.
		p.logger.ErrorContext(ctx, "record settlement success failed",
			slog.String("order_id", orderID),
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
		return domain.SettlementPending
	}

	p.logger.InfoContext(ctx, "order settled",
		slog.String("order_id", orderID),
		slog.String("tx_hash", txHash),
	)
	return domain.SettlementSettled
}

// ListUnsettled returns verified orders whose token transfer has not
// completed, for operator inspection and retry.
func (p *Pipeline) ListUnsettled(ctx context.Context) ([]domain.InvestmentOrder, error) {
	orders, err := p.orders.ListUnsettled(ctx)
	if err != nil {
		return nil, fmt.Errorf("invest: list unsettled: %w", err)
	}
	return orders, nil
}

// ListByUser returns a user's own orders, newest first.
func (p *Pipeline) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.InvestmentOrder, error) {
	orders, err := p.orders.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("invest: list orders for user %s: %w", userID, err)
	}
	return orders, nil
}

// RetrySettlement re-drives the token transfer for a verified order that is
// not yet settled. It is an administrative action; the order's verification
// state is never touched.
func (p *Pipeline) RetrySettlement(ctx context.Context, adminID, orderID string) (domain.SettlementStatus, error) {
	order, err := p.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("invest: read order %s: %w", orderID, err)
	}
	if !order.Unsettled() {
		return "", &domain.StateTransitionError{OrderID: orderID, Current: order.PaymentStatus}
	}

	p.auditEvent(ctx, "order.settlement_retry", adminID, map[string]any{
		"order_id": orderID,
		"attempts": order.SettlementAttempts,
	})

	return p.settle(ctx, orderID), nil
}

func (p *Pipeline) auditVerification(ctx context.Context, adminID, orderID string, decision domain.PaymentStatus, notes string) {
	p.auditEvent(ctx, "order.payment_"+string(decision), adminID, map[string]any{
		"order_id": orderID,
		"notes":    notes,
	})
}

// auditEvent appends to the audit sink, logging (never propagating) failures.
func (p *Pipeline) auditEvent(ctx context.Context, event, actor string, detail map[string]any) {
	if err := p.audit.Append(ctx, event, actor, detail); err != nil {
		p.logger.ErrorContext(ctx, "audit append failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// notifyDecision informs the affected user. Best-effort.
func (p *Pipeline) notifyDecision(ctx context.Context, order domain.InvestmentOrder, decision domain.PaymentStatus) {
	title := "Payment verified"
	message := fmt.Sprintf("Your payment for order %s was verified. Token settlement is in progress.", order.ID)
	if decision == domain.PaymentRejected {
		title = "Payment rejected"
		message = fmt.Sprintf("Your payment for order %s could not be verified. Please contact support.", order.ID)
	}

	if err := p.notifier.NotifyUser(ctx, order.UserID, "order."+string(decision), title, message); err != nil {
		p.logger.WarnContext(ctx, "user notification failed",
			slog.String("order_id", order.ID),
			slog.String("user_id", order.UserID),
			slog.String("error", err.Error()),
		)
	}
}
