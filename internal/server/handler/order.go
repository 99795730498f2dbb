package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoretti/tokenvest/internal/auth"
	"github.com/jmoretti/tokenvest/internal/domain"
	"github.com/jmoretti/tokenvest/internal/invest"
)

// OrderService defines the methods the order handler requires from the
// verification pipeline.
type OrderService interface {
	VerifyPayment(ctx context.Context, adminID, orderID string, decision domain.PaymentStatus, notes string) (invest.VerifyResult, error)
	ListUnsettled(ctx context.Context) ([]domain.InvestmentOrder, error)
	ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.InvestmentOrder, error)
	RetrySettlement(ctx context.Context, adminID, orderID string) (domain.SettlementStatus, error)
}

// OrderHandler serves order verification and settlement endpoints.
type OrderHandler struct {
	service OrderService
	limiter domain.RateLimiter
	logger  *slog.Logger
}

// NewOrderHandler creates an OrderHandler. The limiter enforces the
// sensitive-submission policy on verification decisions.
func NewOrderHandler(service OrderService, limiter domain.RateLimiter, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		limiter: limiter,
		logger:  logger,
	}
}

// verifyRequest is the JSON body for a verification decision.
type verifyRequest struct {
	Decision string `json:"decision"` // "verified" or "rejected"
	Notes    string `json:"notes"`
}

// orderResponse is the JSON view of an investment order. Money amounts are
// rounded to two decimal places for display; quantities keep full precision.
type orderResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	TokenID            string     `json:"tokenId"`
	Quantity           string     `json:"quantity"`
	AmountPaid         string     `json:"amountPaid"`
	PaymentRef         string     `json:"paymentRef,omitempty"`
	PaymentStatus      string     `json:"paymentStatus"`
	Notes              string     `json:"notes,omitempty"`
	VerifiedBy         *string    `json:"verifiedBy,omitempty"`
	VerifiedAt         *time.Time `json:"verifiedAt,omitempty"`
	SettlementStatus   string     `json:"settlementStatus,omitempty"`
	SettlementTxHash   *string    `json:"settlementTxHash,omitempty"`
	SettlementAttempts int        `json:"settlementAttempts"`
	SettledAt          *time.Time `json:"settledAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

func toOrderResponse(o domain.InvestmentOrder) orderResponse {
	return orderResponse{
		ID:                 o.ID,
		UserID:             o.UserID,
		TokenID:            o.TokenID,
		Quantity:           o.Quantity.String(),
		AmountPaid:         o.AmountPaid.StringFixed(2),
		PaymentRef:         o.PaymentRef,
		PaymentStatus:      string(o.PaymentStatus),
		Notes:              o.Notes,
		VerifiedBy:         o.VerifiedBy,
		VerifiedAt:         o.VerifiedAt,
		SettlementStatus:   string(o.SettlementStatus),
		SettlementTxHash:   o.SettlementTxHash,
		SettlementAttempts: o.SettlementAttempts,
		SettledAt:          o.SettledAt,
		CreatedAt:          o.CreatedAt,
	}
}

// VerifyPayment applies an admin's verification decision to a pending order.
// POST /api/orders/{id}/verify  (admin)
func (h *OrderHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthenticated)
		return
	}
	if err := auth.RequireAdmin(principal); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	orderID := pathParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	if !h.allowSensitive(w, r, principal.UserID) {
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.service.VerifyPayment(r.Context(), principal.UserID, orderID, domain.PaymentStatus(req.Decision), req.Notes)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"orderId":          result.OrderID,
		"paymentStatus":    result.NewStatus,
		"settlementStatus": result.SettlementStatus,
	})
}

// ListUnsettled returns verified orders whose token transfer has not
// completed.
// GET /api/orders/unsettled  (admin)
func (h *OrderHandler) ListUnsettled(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthenticated)
		return
	}
	if err := auth.RequireAdmin(principal); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	orders, err := h.service.ListUnsettled(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	items := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderResponse(o))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"orders":  items,
	})
}

// ListMine returns the calling user's own orders.
// GET /api/orders
func (h *OrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthenticated)
		return
	}

	orders, err := h.service.ListByUser(r.Context(), principal.UserID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	items := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderResponse(o))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"orders":  items,
	})
}

// RetrySettlement re-drives the token transfer for a verified but unsettled
// order.
// POST /api/orders/{id}/settlement/retry  (admin)
func (h *OrderHandler) RetrySettlement(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthenticated)
		return
	}
	if err := auth.RequireAdmin(principal); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	orderID := pathParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	status, err := h.service.RetrySettlement(r.Context(), principal.UserID, orderID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"orderId":          orderID,
		"settlementStatus": status,
	})
}

// allowSensitive enforces the sensitive-submission policy for the given user.
// Limiter errors fail open. Returns false after writing the 429 response.
func (h *OrderHandler) allowSensitive(w http.ResponseWriter, r *http.Request, userID string) bool {
	if h.limiter == nil {
		return true
	}
	res, err := h.limiter.Check(r.Context(), "sensitive:user:"+userID, domain.PolicySensitiveSubmission)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: rate limiter unavailable",
			slog.String("error", err.Error()),
		)
		return true
	}
	if !res.Allowed {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}
