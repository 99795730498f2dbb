package invest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jmoretti/tokenvest/internal/domain"
)

type stubOrderStore struct {
	mu     sync.Mutex
	orders map[string]*domain.InvestmentOrder

	transitionErr error
	settlementErr error
}

func newStubOrderStore(orders ...domain.InvestmentOrder) *stubOrderStore {
	s := &stubOrderStore{orders: make(map[string]*domain.InvestmentOrder)}
	for i := range orders {
		o := orders[i]
		s.orders[o.ID] = &o
	}
	return s
}

func (s *stubOrderStore) GetByID(ctx context.Context, id string) (domain.InvestmentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.InvestmentOrder{}, domain.ErrNotFound
	}
	return *o, nil
}

func (s *stubOrderStore) TransitionPayment(ctx context.Context, id string, from, to domain.PaymentStatus, verifiedBy, notes string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErr != nil {
		return false, s.transitionErr
	}
	o, ok := s.orders[id]
	if !ok || o.PaymentStatus != from {
		return false, nil
	}
	now := time.Now().UTC()
	o.PaymentStatus = to
	o.VerifiedBy = &verifiedBy
	o.VerifiedAt = &now
	o.Notes = notes
	if to == domain.PaymentVerified {
		o.SettlementStatus = domain.SettlementPending
	}
	return true, nil
}

func (s *stubOrderStore) UpdateSettlement(ctx context.Context, id string, status domain.SettlementStatus, txHash *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settlementErr != nil {
		return s.settlementErr
	}
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.SettlementStatus = status
	o.SettlementTxHash = txHash
	if status == domain.SettlementFailed {
		o.SettlementAttempts++
	}
	if status == domain.SettlementSettled {
		now := time.Now().UTC()
		o.SettledAt = &now
	}
	return nil
}

func (s *stubOrderStore) ListUnsettled(ctx context.Context) ([]domain.InvestmentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.InvestmentOrder
	for _, o := range s.orders {
		if o.Unsettled() {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *stubOrderStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.InvestmentOrder, error) {
	return nil, nil
}

type stubSettler struct {
	mu    sync.Mutex
	calls int
	err   error
	hash  string
}

func (s *stubSettler) Transfer(ctx context.Context, orderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.hash, nil
}

func (s *stubSettler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubAudit struct {
	mu      sync.Mutex
	events  []string
	err     error
	entries []map[string]any
}

func (s *stubAudit) Append(ctx context.Context, event, actor string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	s.entries = append(s.entries, detail)
	return nil
}

func (s *stubAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type stubNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *stubNotifier) NotifyUser(ctx context.Context, userID, event, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, userID+":"+event)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingOrder(id, userID string) domain.InvestmentOrder {
	return domain.InvestmentOrder{
		ID:            id,
		UserID:        userID,
		TokenID:       "tok-1",
		PaymentStatus: domain.PaymentPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func newTestPipeline(store *stubOrderStore, settler *stubSettler, audit *stubAudit, notifier *stubNotifier) *Pipeline {
	return NewPipeline(store, settler, audit, notifier, time.Second, testLogger())
}

func TestVerifyPaymentVerified(t *testing.T) {
	store := newStubOrderStore(pendingOrder("o1", "u1"))
	settler := &stubSettler{hash: "0xabc"}
	audit := &stubAudit{}
	notifier := &stubNotifier{}
	p := newTestPipeline(store, settler, audit, notifier)

	res, err := p.VerifyPayment(context.Background(), "admin-1", "o1", domain.PaymentVerified, "wire ref 991")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NewStatus != domain.PaymentVerified {
		t.Errorf("new status = %q", res.NewStatus)
	}
	if res.SettlementStatus != domain.SettlementSettled {
		t.Errorf("settlement status = %q, want settled", res.SettlementStatus)
	}

	order, _ := store.GetByID(context.Background(), "o1")
	if order.PaymentStatus != domain.PaymentVerified {
		t.Errorf("stored payment status = %q", order.PaymentStatus)
	}
	if order.VerifiedBy == nil || *order.VerifiedBy != "admin-1" {
		t.Errorf("verifiedBy = %v", order.VerifiedBy)
	}
	if order.Notes != "wire ref 991" {
		t.Errorf("notes = %q", order.Notes)
	}
	if order.SettlementTxHash == nil || *order.SettlementTxHash != "0xabc" {
		t.Errorf("tx hash = %v", order.SettlementTxHash)
	}
	if settler.callCount() != 1 {
		t.Errorf("settlement triggered %d times, want 1", settler.callCount())
	}
	if len(audit.events) != 1 || audit.events[0] != "order.payment_verified" {
		t.Errorf("audit events = %v", audit.events)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "u1:order.verified" {
		t.Errorf("notifications = %v", notifier.calls)
	}
}

func TestVerifyPaymentRejectedSkipsSettlement(t *testing.T) {
	store := newStubOrderStore(pendingOrder("o1", "u1"))
	settler := &stubSettler{hash: "0xabc"}
	p := newTestPipeline(store, settler, &stubAudit{}, &stubNotifier{})

	res, err := p.VerifyPayment(context.Background(), "admin-1", "o1", domain.PaymentRejected, "no matching wire")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NewStatus != domain.PaymentRejected {
		t.Errorf("new status = %q", res.NewStatus)
	}
	if settler.callCount() != 0 {
		t.Errorf("settlement should not be triggered on rejection")
	}
}

func TestVerifyPaymentTerminalOrder(t *testing.T) {
	store := newStubOrderStore(pendingOrder("o1", "u1"))
	settler := &stubSettler{hash: "0xabc"}
	p := newTestPipeline(store, settler, &stubAudit{}, &stubNotifier{})

	if _, err := p.VerifyPayment(context.Background(), "admin-1", "o1", domain.PaymentVerified, ""); err != nil {
		t.Fatalf("first verification: %v", err)
	}

	// Second attempt, regardless of decision, must fail and leave the order
	// unchanged.
	_, err := p.VerifyPayment(context.Background(), "admin-2", "o1", domain.PaymentRejected, "")
	var ste *domain.StateTransitionError
	if !errors.As(err, &ste) {
		t.Fatalf("expected StateTransitionError, got %v", err)
	}
	if ste.Current != domain.PaymentVerified {
		t.Errorf("error carries current status %q, want verified", ste.Current)
	}

	order, _ := store.GetByID(context.Background(), "o1")
	if order.PaymentStatus != domain.PaymentVerified {
		t.Errorf("stored status changed to %q", order.PaymentStatus)
	}
	if settler.callCount() != 1 {
		t.Errorf("settlement triggered %d times, want 1", settler.callCount())
	}
}

func TestVerifyPaymentNotFound(t *testing.T) {
	p := newTestPipeline(newStubOrderStore(), &stubSettler{}, &stubAudit{}, &stubNotifier{})
	if _, err := p.VerifyPayment(context.Background(), "a", "missing", domain.PaymentVerified, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyPaymentBadDecision(t *testing.T) {
	p := newTestPipeline(newStubOrderStore(pendingOrder("o1", "u1")), &stubSettler{}, &stubAudit{}, &stubNotifier{})
	if _, err := p.VerifyPayment(context.Background(), "a", "o1", domain.PaymentPending, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestVerifyPaymentSettlementFailureDoesNotRollBack(t *testing.T) {
	store := newStubOrderStore(pendingOrder("o1", "u1"))
	settler := &stubSettler{err: errors.New("custody service down")}
	audit := &stubAudit{}
	p := newTestPipeline(store, settler, audit, &stubNotifier{})

	res, err := p.VerifyPayment(context.Background(), "admin-1", "o1", domain.PaymentVerified, "")
	if err != nil {
		t.Fatalf("verification must succeed despite settlement failure, got %v", err)
	}
	if res.SettlementStatus != domain.SettlementFailed {
		t.Errorf("settlement status = %q, want failed", res.SettlementStatus)
	}

	order, _ := store.GetByID(context.Background(), "o1")
	if order.PaymentStatus != domain.PaymentVerified {
		t.Errorf("payment status = %q, want verified", order.PaymentStatus)
	}
	if order.SettlementStatus != domain.SettlementFailed {
		t.Errorf("stored settlement status = %q, want failed", order.SettlementStatus)
	}
	if order.SettlementAttempts != 1 {
		t.Errorf("attempts = %d, want 1", order.SettlementAttempts)
	}

	// The order is now queryable as verified-but-unsettled.
	unsettled, err := p.ListUnsettled(context.Background())
	if err != nil {
		t.Fatalf("list unsettled: %v", err)
	}
	if len(unsettled) != 1 || unsettled[0].ID != "o1" {
		t.Errorf("unsettled = %+v", unsettled)
	}

	found := false
	for _, ev := range audit.events {
		if ev == "order.settlement_failed" {
			found = true
		}
	}
	if !found {
		t.Errorf("settlement failure should be audited, got %v", audit.events)
	}
}

func TestVerifyPaymentAuditAndNotifyFailuresAreSwallowed(t *testing.T) {
	store := newStubOrderStore(pendingOrder("o1", "u1"))
	audit := &stubAudit{err: errors.New("sink down")}
	notifier := &stubNotifier{err: errors.New("push down")}
	p := newTestPipeline(store, &stubSettler{hash: "0x1"}, audit, notifier)

	if _, err := p.VerifyPayment(context.Background(), "admin-1", "o1", domain.PaymentVerified, ""); err != nil {
		t.Fatalf("verification should report success, got %v", err)
	}
}

func TestVerifyPaymentConcurrentSingleWinner(t *testing.T) {
	store := newStubOrderStore(pendingOrder("o1", "u1"))
	settler := &stubSettler{hash: "0xabc"}
	p := newTestPipeline(store, settler, &stubAudit{}, &stubNotifier{})

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	conflicts := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.VerifyPayment(context.Background(), "admin-1", "o1", domain.PaymentVerified, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			default:
				var ste *domain.StateTransitionError
				if errors.As(err, &ste) {
					conflicts++
				} else {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if conflicts != n-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, n-1)
	}
	if settler.callCount() != 1 {
		t.Errorf("settlement triggered %d times, want exactly 1", settler.callCount())
	}
}

func TestRetrySettlement(t *testing.T) {
	store := newStubOrderStore(pendingOrder("o1", "u1"))
	settler := &stubSettler{err: errors.New("down")}
	p := newTestPipeline(store, settler, &stubAudit{}, &stubNotifier{})

	if _, err := p.VerifyPayment(context.Background(), "admin-1", "o1", domain.PaymentVerified, ""); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Custody service recovers; retry succeeds.
	settler.mu.Lock()
	settler.err = nil
	settler.hash = "0xretry"
	settler.mu.Unlock()

	status, err := p.RetrySettlement(context.Background(), "admin-2", "o1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if status != domain.SettlementSettled {
		t.Errorf("status = %q, want settled", status)
	}

	order, _ := store.GetByID(context.Background(), "o1")
	if order.SettlementTxHash == nil || *order.SettlementTxHash != "0xretry" {
		t.Errorf("tx hash = %v", order.SettlementTxHash)
	}

	// Retrying a settled order is an invalid transition.
	if _, err := p.RetrySettlement(context.Background(), "admin-2", "o1"); err == nil {
		t.Error("retry of settled order should fail")
	}
}

func TestSweeperRetriesUnsettled(t *testing.T) {
	store := newStubOrderStore(pendingOrder("o1", "u1"))
	settler := &stubSettler{err: errors.New("down")}
	p := newTestPipeline(store, settler, &stubAudit{}, &stubNotifier{})

	if _, err := p.VerifyPayment(context.Background(), "admin-1", "o1", domain.PaymentVerified, ""); err != nil {
		t.Fatalf("verify: %v", err)
	}

	settler.mu.Lock()
	settler.err = nil
	settler.hash = "0xswept"
	settler.mu.Unlock()

	s := NewSweeper(p, time.Hour, 3, testLogger())
	s.sweep(context.Background())

	order, _ := store.GetByID(context.Background(), "o1")
	if order.SettlementStatus != domain.SettlementSettled {
		t.Errorf("settlement status after sweep = %q, want settled", order.SettlementStatus)
	}
}
