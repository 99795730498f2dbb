package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jmoretti/tokenvest/internal/auth"
	"github.com/jmoretti/tokenvest/internal/domain"
	"github.com/jmoretti/tokenvest/internal/holdings"
	"github.com/jmoretti/tokenvest/internal/invest"
	"github.com/jmoretti/tokenvest/internal/kyc"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func authed(r *http.Request, userID string, role domain.Role) *http.Request {
	p := auth.Principal{UserID: userID, Role: role}
	return r.WithContext(auth.WithPrincipal(r.Context(), p))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return body
}

type stubOrderService struct {
	verifyResult invest.VerifyResult
	verifyErr    error
	unsettled    []domain.InvestmentOrder
	userOrders   []domain.InvestmentOrder
	retryStatus  domain.SettlementStatus
	retryErr     error

	gotAdminID  string
	gotOrderID  string
	gotDecision domain.PaymentStatus
	gotListUser string
}

func (s *stubOrderService) VerifyPayment(_ context.Context, adminID, orderID string, decision domain.PaymentStatus, notes string) (invest.VerifyResult, error) {
	s.gotAdminID = adminID
	s.gotOrderID = orderID
	s.gotDecision = decision
	return s.verifyResult, s.verifyErr
}

func (s *stubOrderService) ListUnsettled(context.Context) ([]domain.InvestmentOrder, error) {
	return s.unsettled, nil
}

func (s *stubOrderService) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.InvestmentOrder, error) {
	s.gotListUser = userID
	return s.userOrders, nil
}

func (s *stubOrderService) RetrySettlement(_ context.Context, adminID, orderID string) (domain.SettlementStatus, error) {
	return s.retryStatus, s.retryErr
}

type stubLimiter struct {
	allowed   bool
	remaining int
	checks    int
}

func (s *stubLimiter) Check(context.Context, string, domain.RateLimitPolicy) (domain.RateLimitResult, error) {
	s.checks++
	return domain.RateLimitResult{
		Allowed:   s.allowed,
		Remaining: s.remaining,
		ResetAt:   time.Now().Add(time.Minute),
	}, nil
}

func TestVerifyPaymentRequiresAdmin(t *testing.T) {
	h := NewOrderHandler(&stubOrderService{}, &stubLimiter{allowed: true}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/orders/o1/verify", strings.NewReader(`{"decision":"verified"}`))
	req.SetPathValue("id", "o1")
	req = authed(req, "u1", domain.RoleInvestor)

	rec := httptest.NewRecorder()
	h.VerifyPayment(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestVerifyPaymentHappyPath(t *testing.T) {
	svc := &stubOrderService{
		verifyResult: invest.VerifyResult{
			OrderID:          "o1",
			NewStatus:        domain.PaymentVerified,
			SettlementStatus: domain.SettlementSettled,
		},
	}
	h := NewOrderHandler(svc, &stubLimiter{allowed: true}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/orders/o1/verify", strings.NewReader(`{"decision":"verified","notes":"wire ref ok"}`))
	req.SetPathValue("id", "o1")
	req = authed(req, "admin1", domain.RoleAdmin)

	rec := httptest.NewRecorder()
	h.VerifyPayment(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if svc.gotAdminID != "admin1" || svc.gotOrderID != "o1" || svc.gotDecision != domain.PaymentVerified {
		t.Fatalf("service called with (%q, %q, %q)", svc.gotAdminID, svc.gotOrderID, svc.gotDecision)
	}

	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("success = %v, want true", body["success"])
	}
	if body["settlementStatus"] != "settled" {
		t.Fatalf("settlementStatus = %v, want settled", body["settlementStatus"])
	}
}

func TestVerifyPaymentTerminalOrderMapsTo400(t *testing.T) {
	svc := &stubOrderService{
		verifyErr: &domain.StateTransitionError{OrderID: "o1", Current: domain.PaymentVerified},
	}
	h := NewOrderHandler(svc, &stubLimiter{allowed: true}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/orders/o1/verify", strings.NewReader(`{"decision":"verified"}`))
	req.SetPathValue("id", "o1")
	req = authed(req, "admin1", domain.RoleAdmin)

	rec := httptest.NewRecorder()
	h.VerifyPayment(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestVerifyPaymentSensitiveLimit(t *testing.T) {
	limiter := &stubLimiter{allowed: false}
	h := NewOrderHandler(&stubOrderService{}, limiter, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/orders/o1/verify", strings.NewReader(`{"decision":"verified"}`))
	req.SetPathValue("id", "o1")
	req = authed(req, "admin1", domain.RoleAdmin)

	rec := httptest.NewRecorder()
	h.VerifyPayment(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if limiter.checks != 1 {
		t.Fatalf("limiter checks = %d, want 1", limiter.checks)
	}
}

func TestListUnsettledSerializesOrders(t *testing.T) {
	settledBy := "admin1"
	svc := &stubOrderService{
		unsettled: []domain.InvestmentOrder{{
			ID:                 "o7",
			UserID:             "u3",
			TokenID:            "t1",
			Quantity:           decimal.RequireFromString("12.345"),
			AmountPaid:         decimal.RequireFromString("1000.5"),
			PaymentStatus:      domain.PaymentVerified,
			VerifiedBy:         &settledBy,
			SettlementStatus:   domain.SettlementFailed,
			SettlementAttempts: 2,
		}},
	}
	h := NewOrderHandler(svc, &stubLimiter{allowed: true}, discardLogger())

	req := authed(httptest.NewRequest(http.MethodGet, "/api/orders/unsettled", nil), "admin1", domain.RoleAdmin)
	rec := httptest.NewRecorder()
	h.ListUnsettled(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := decodeBody(t, rec)
	orders, ok := body["orders"].([]any)
	if !ok || len(orders) != 1 {
		t.Fatalf("orders = %v, want one entry", body["orders"])
	}
	entry := orders[0].(map[string]any)
	if entry["quantity"] != "12.345" {
		t.Errorf("quantity = %v, want 12.345 (full precision)", entry["quantity"])
	}
	if entry["amountPaid"] != "1000.50" {
		t.Errorf("amountPaid = %v, want 1000.50 (two decimals)", entry["amountPaid"])
	}
	if entry["settlementAttempts"] != float64(2) {
		t.Errorf("settlementAttempts = %v, want 2", entry["settlementAttempts"])
	}
}

func TestListMineScopesToCaller(t *testing.T) {
	svc := &stubOrderService{
		userOrders: []domain.InvestmentOrder{{
			ID:            "o1",
			UserID:        "u5",
			TokenID:       "t2",
			Quantity:      decimal.RequireFromString("3"),
			AmountPaid:    decimal.RequireFromString("75"),
			PaymentStatus: domain.PaymentPending,
		}},
	}
	h := NewOrderHandler(svc, &stubLimiter{allowed: true}, discardLogger())

	req := authed(httptest.NewRequest(http.MethodGet, "/api/orders", nil), "u5", domain.RoleInvestor)
	rec := httptest.NewRecorder()
	h.ListMine(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.gotListUser != "u5" {
		t.Errorf("listed user = %q, want %q", svc.gotListUser, "u5")
	}

	body := decodeBody(t, rec)
	orders, ok := body["orders"].([]any)
	if !ok || len(orders) != 1 {
		t.Fatalf("orders = %v, want one entry", body["orders"])
	}
	entry := orders[0].(map[string]any)
	if entry["paymentStatus"] != string(domain.PaymentPending) {
		t.Errorf("paymentStatus = %v, want %q", entry["paymentStatus"], domain.PaymentPending)
	}
}

type stubHoldingService struct {
	valuations []domain.HoldingValuation
	syncResult holdings.SyncResult
	syncErr    error

	gotUserID  string
	gotAddress string
}

func (s *stubHoldingService) Valuation(_ context.Context, userID string) ([]domain.HoldingValuation, error) {
	s.gotUserID = userID
	return s.valuations, nil
}

func (s *stubHoldingService) SyncFromChain(_ context.Context, userID, tokenAddress string) (holdings.SyncResult, error) {
	s.gotUserID = userID
	s.gotAddress = tokenAddress
	return s.syncResult, s.syncErr
}

func TestHoldingsListRoundsMoneyFields(t *testing.T) {
	svc := &stubHoldingService{
		valuations: []domain.HoldingValuation{
			domain.Valuate(domain.Holding{
				TokenID:       "t1",
				Quantity:      decimal.RequireFromString("25.5"),
				TotalInvested: decimal.RequireFromString("150.75"),
			}, "RWA1", decimal.RequireFromString("10.10")),
		},
	}
	h := NewHoldingHandler(svc, &stubLimiter{allowed: true}, discardLogger())

	req := authed(httptest.NewRequest(http.MethodGet, "/api/holdings", nil), "u1", domain.RoleInvestor)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.gotUserID != "u1" {
		t.Fatalf("valuation requested for %q, want u1", svc.gotUserID)
	}

	body := decodeBody(t, rec)
	list := body["holdings"].([]any)
	entry := list[0].(map[string]any)
	if entry["currentValue"] != "257.55" {
		t.Errorf("currentValue = %v, want 257.55", entry["currentValue"])
	}
	if entry["unrealizedPnl"] != "106.80" {
		t.Errorf("unrealizedPnl = %v, want 106.80", entry["unrealizedPnl"])
	}
	if entry["quantity"] != "25.5" {
		t.Errorf("quantity = %v, want 25.5", entry["quantity"])
	}
}

func TestHoldingsSyncChainDownIsGeneric500(t *testing.T) {
	svc := &stubHoldingService{syncErr: domain.ErrChainUnavailable}
	h := NewHoldingHandler(svc, &stubLimiter{allowed: true}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/holdings/0xabc/sync", nil)
	req.SetPathValue("tokenAddress", "0xabc")
	req = authed(req, "u1", domain.RoleInvestor)

	rec := httptest.NewRecorder()
	h.Sync(rec, req)

	// Infrastructure faults must not leak chain details to the caller.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	body := decodeBody(t, rec)
	if body["error"] != "internal server error" {
		t.Errorf("error = %v, want generic message", body["error"])
	}
}

type stubKycService struct {
	status   domain.KycStatus
	err      error
	batch    []kyc.BatchResult
	gotUsers []string
}

func (s *stubKycService) Recompute(_ context.Context, userID string) (domain.KycStatus, error) {
	s.gotUsers = append(s.gotUsers, userID)
	return s.status, s.err
}

func (s *stubKycService) BatchRecompute(_ context.Context, userIDs []string) []kyc.BatchResult {
	s.gotUsers = userIDs
	return s.batch
}

type stubUserStore struct {
	user domain.User
	err  error
}

func (s *stubUserStore) GetByID(context.Context, string) (domain.User, error) {
	return s.user, s.err
}

func (s *stubUserStore) UpdateKycStatus(context.Context, string, domain.KycStatus) error {
	return nil
}

func TestKycRecomputeRequiresAdmin(t *testing.T) {
	h := NewKycHandler(&stubKycService{}, &stubUserStore{}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/kyc/recompute/u2", nil)
	req.SetPathValue("userID", "u2")
	req = authed(req, "u1", domain.RoleInvestor)

	rec := httptest.NewRecorder()
	h.Recompute(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestKycBatchRecomputeReportsPerUserFailures(t *testing.T) {
	svc := &stubKycService{
		batch: []kyc.BatchResult{
			{UserID: "u1", Status: domain.KycApproved},
			{UserID: "u2", Err: domain.ErrNotFound},
			{UserID: "u3", Status: domain.KycPending},
		},
	}
	h := NewKycHandler(svc, &stubUserStore{}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/kyc/recompute", strings.NewReader(`{"userIds":["u1","u2","u3"]}`))
	req = authed(req, "admin1", domain.RoleAdmin)

	rec := httptest.NewRecorder()
	h.BatchRecompute(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["total"] != float64(3) || body["failed"] != float64(1) {
		t.Fatalf("total/failed = %v/%v, want 3/1", body["total"], body["failed"])
	}
}

func TestKycStatusReturnsCallersOwnStatus(t *testing.T) {
	users := &stubUserStore{user: domain.User{ID: "u1", KycStatus: domain.KycApproved}}
	h := NewKycHandler(&stubKycService{}, users, discardLogger())

	req := authed(httptest.NewRequest(http.MethodGet, "/api/kyc/status", nil), "u1", domain.RoleInvestor)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body["kycStatus"] != "approved" {
		t.Fatalf("kycStatus = %v, want approved", body["kycStatus"])
	}
}

func TestUnauthenticatedRequestsGet401(t *testing.T) {
	h := NewOrderHandler(&stubOrderService{}, &stubLimiter{allowed: true}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/orders/unsettled", nil)
	rec := httptest.NewRecorder()
	h.ListUnsettled(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
