package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmeshcher/storefront-system/internal/billing"
	"github.com/mmeshcher/storefront-system/internal/catalog"
	"github.com/mmeshcher/storefront-system/internal/model"
)

type stubIdentity struct {
	id int64
	ok bool
}

func (s stubIdentity) Resolve() (int64, bool) {
	return s.id, s.ok
}

type scriptedClient struct {
	mu sync.Mutex

	createErr   error
	createCalls int
	lastAmount  int64
	lastGroups  []string

	// statuses выдаются по одному на вызов; последний элемент повторяется.
	// Пустой статус означает «неизвестно» (пропущенный такт).
	statuses    []model.InvoiceStatus
	statusCalls int
}

func (s *scriptedClient) CreateInvoice(ctx context.Context, userID int64, groups []string, amount int64) (*billing.CreatedInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.createCalls++
	s.lastAmount = amount
	s.lastGroups = groups

	if s.createErr != nil {
		return nil, s.createErr
	}
	return &billing.CreatedInvoice{ID: "X1", Amount: amount}, nil
}

func (s *scriptedClient) Status(ctx context.Context, invoiceID string) (model.InvoiceStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.statusCalls
	s.statusCalls++

	if len(s.statuses) == 0 {
		return "", false
	}
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	st := s.statuses[idx]
	if st == "" {
		return "", false
	}
	return st, true
}

func (s *scriptedClient) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls, s.statusCalls
}

func loadedStore(t *testing.T) (*catalog.Store, *catalog.Pricing) {
	t.Helper()

	price := int64(25000)
	s := catalog.NewStore()
	err := s.Load([]model.CatalogItem{
		{ID: "A", Name: "Group A", Price: &price},
		{ID: "B", Name: "Group B", Price: &price},
	})
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return s, catalog.NewPricing(s, 0)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v", timeout)
}

func TestCheckout_EmptySelection(t *testing.T) {
	store, pricing := loadedStore(t)
	client := &scriptedClient{}
	c := NewController(store, pricing, stubIdentity{id: 1, ok: true}, client, nil, nil)

	_, err := c.Checkout(context.Background())
	if !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %s, want IDLE", c.State())
	}

	creates, _ := client.calls()
	if creates != 0 {
		t.Fatalf("CreateInvoice called %d times, want 0", creates)
	}
}

func TestCheckout_IdentityUnavailable(t *testing.T) {
	store, pricing := loadedStore(t)
	store.Toggle("A")

	client := &scriptedClient{}
	c := NewController(store, pricing, stubIdentity{}, client, nil, nil)

	_, err := c.Checkout(context.Background())
	if !errors.Is(err, ErrIdentityUnavailable) {
		t.Fatalf("expected ErrIdentityUnavailable, got %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %s, want IDLE", c.State())
	}

	creates, _ := client.calls()
	if creates != 0 {
		t.Fatalf("CreateInvoice called %d times, want 0", creates)
	}
}

func TestCheckout_PaidOnFourthPoll(t *testing.T) {
	store, pricing := loadedStore(t)
	store.Toggle("A")
	store.Toggle("B")

	client := &scriptedClient{
		statuses: []model.InvoiceStatus{
			model.InvoiceStatusPending,
			model.InvoiceStatusPending,
			model.InvoiceStatusPending,
			model.InvoiceStatusPaid,
		},
	}

	var mu sync.Mutex
	paidSignals := 0
	statusCallsAtSignal := 0

	c := NewController(store, pricing, stubIdentity{id: 42, ok: true}, client, nil, func() {
		mu.Lock()
		defer mu.Unlock()
		paidSignals++
		_, statusCallsAtSignal = client.calls()
	})
	c.SetPollPolicy(5*time.Millisecond, 100)

	session, err := c.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	if session.InvoiceID != "X1" {
		t.Fatalf("invoiceID = %s, want X1", session.InvoiceID)
	}
	if session.Amount != 50000 {
		t.Fatalf("amount = %d, want 50000", session.Amount)
	}
	if client.lastAmount != 50000 {
		t.Fatalf("CreateInvoice amount = %d, want 50000", client.lastAmount)
	}

	waitFor(t, time.Second, func() bool { return c.State() == StatePaid })

	mu.Lock()
	defer mu.Unlock()
	if paidSignals != 1 {
		t.Fatalf("paid signal fired %d times, want exactly 1", paidSignals)
	}
	if statusCallsAtSignal != 4 {
		t.Fatalf("paid signal fired after %d polls, want 4", statusCallsAtSignal)
	}
}

func TestCheckout_CreateFailure(t *testing.T) {
	store, pricing := loadedStore(t)
	store.Toggle("A")

	client := &scriptedClient{
		createErr: &billing.CreateError{Message: "insufficient funds"},
	}

	c := NewController(store, pricing, stubIdentity{id: 1, ok: true}, client, nil, func() {
		t.Errorf("paid signal must not fire on create failure")
	})
	c.SetPollPolicy(5*time.Millisecond, 100)

	_, err := c.Checkout(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %s, want FAILED", c.State())
	}
	if !strings.Contains(c.FailureMessage(), "insufficient funds") {
		t.Fatalf("failure message = %q, want backend text", c.FailureMessage())
	}

	// таймер опроса не должен запускаться
	time.Sleep(30 * time.Millisecond)
	if _, statusCalls := client.calls(); statusCalls != 0 {
		t.Fatalf("Status called %d times after failed create, want 0", statusCalls)
	}

	// явный повтор возвращает контроллер в IDLE
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state after Reset = %s, want IDLE", c.State())
	}
}

func TestCheckout_BudgetExhaustedThenManualRecheck(t *testing.T) {
	store, pricing := loadedStore(t)
	store.Toggle("A")

	client := &scriptedClient{
		statuses: []model.InvoiceStatus{model.InvoiceStatusPending},
	}

	c := NewController(store, pricing, stubIdentity{id: 1, ok: true}, client, nil, nil)
	c.SetPollPolicy(3*time.Millisecond, 5)

	if _, err := c.Checkout(context.Background()); err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	waitFor(t, time.Second, func() bool { return c.State() == StateAbandoned })

	_, after := client.calls()
	if after != 5 {
		t.Fatalf("Status called %d times, want budget of 5", after)
	}

	// автоматический опрос остановлен
	time.Sleep(20 * time.Millisecond)
	if _, again := client.calls(); again != after {
		t.Fatalf("Status called after abandon: %d -> %d", after, again)
	}

	// ручная проверка выполняет ровно один дополнительный запрос
	status, err := c.Recheck(context.Background())
	if err != nil {
		t.Fatalf("Recheck error: %v", err)
	}
	if status != model.InvoiceStatusPending {
		t.Fatalf("Recheck status = %s, want PENDING", status)
	}
	if _, final := client.calls(); final != after+1 {
		t.Fatalf("Status calls after Recheck = %d, want %d", final, after+1)
	}
}

func TestRecheck_PromotesAbandonedToPaid(t *testing.T) {
	store, pricing := loadedStore(t)
	store.Toggle("A")

	client := &scriptedClient{
		statuses: []model.InvoiceStatus{model.InvoiceStatusPending},
	}

	paid := make(chan struct{})
	c := NewController(store, pricing, stubIdentity{id: 1, ok: true}, client, nil, func() {
		close(paid)
	})
	c.SetPollPolicy(3*time.Millisecond, 3)

	if _, err := c.Checkout(context.Background()); err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return c.State() == StateAbandoned })

	// бэкенд подтверждает оплату: статус монотонный, PAID не откатывается
	client.mu.Lock()
	client.statuses = []model.InvoiceStatus{model.InvoiceStatusPaid}
	client.statusCalls = 0
	client.mu.Unlock()

	status, err := c.Recheck(context.Background())
	if err != nil {
		t.Fatalf("Recheck error: %v", err)
	}
	if status != model.InvoiceStatusPaid {
		t.Fatalf("Recheck status = %s, want PAID", status)
	}
	if c.State() != StatePaid {
		t.Fatalf("state = %s, want PAID", c.State())
	}

	select {
	case <-paid:
	case <-time.After(time.Second):
		t.Fatalf("paid signal did not fire")
	}
}

func TestCheckout_RejectsConcurrentSession(t *testing.T) {
	store, pricing := loadedStore(t)
	store.Toggle("A")

	client := &scriptedClient{
		statuses: []model.InvoiceStatus{model.InvoiceStatusPending},
	}

	c := NewController(store, pricing, stubIdentity{id: 1, ok: true}, client, nil, nil)
	c.SetPollPolicy(time.Hour, 100)

	if _, err := c.Checkout(context.Background()); err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	_, err := c.Checkout(context.Background())
	if !errors.Is(err, ErrCheckoutInProgress) {
		t.Fatalf("expected ErrCheckoutInProgress, got %v", err)
	}

	c.Cancel()
}

func TestCancel_StopsPollingDeterministically(t *testing.T) {
	store, pricing := loadedStore(t)
	store.Toggle("A")

	client := &scriptedClient{
		statuses: []model.InvoiceStatus{model.InvoiceStatusPending},
	}

	c := NewController(store, pricing, stubIdentity{id: 1, ok: true}, client, nil, nil)
	c.SetPollPolicy(3*time.Millisecond, 1000)

	if _, err := c.Checkout(context.Background()); err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, n := client.calls()
		return n > 0
	})

	c.Cancel()
	if c.State() != StateAbandoned {
		t.Fatalf("state after Cancel = %s, want ABANDONED", c.State())
	}

	_, after := client.calls()
	time.Sleep(30 * time.Millisecond)
	if _, again := client.calls(); again != after {
		t.Fatalf("polling continued after Cancel: %d -> %d", after, again)
	}
}

func TestCheckNow_ForcesImmediatePoll(t *testing.T) {
	store, pricing := loadedStore(t)
	store.Toggle("A")

	client := &scriptedClient{
		statuses: []model.InvoiceStatus{model.InvoiceStatusPaid},
	}

	paid := make(chan struct{})
	c := NewController(store, pricing, stubIdentity{id: 1, ok: true}, client, nil, func() {
		close(paid)
	})
	// штатный тикер не успеет сработать, проверку вызывает только CheckNow
	c.SetPollPolicy(time.Hour, 100)

	if _, err := c.Checkout(context.Background()); err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	c.CheckNow()

	select {
	case <-paid:
	case <-time.After(time.Second):
		t.Fatalf("CheckNow did not trigger an immediate status check")
	}
}

func TestPolling_SkipsUnknownTicks(t *testing.T) {
	store, pricing := loadedStore(t)
	store.Toggle("A")

	// два пропущенных такта (сбой бэкенда), затем оплата
	client := &scriptedClient{
		statuses: []model.InvoiceStatus{"", "", model.InvoiceStatusPaid},
	}

	paid := make(chan struct{})
	c := NewController(store, pricing, stubIdentity{id: 1, ok: true}, client, nil, func() {
		close(paid)
	})
	c.SetPollPolicy(3*time.Millisecond, 100)

	if _, err := c.Checkout(context.Background()); err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	select {
	case <-paid:
	case <-time.After(time.Second):
		t.Fatalf("transient poll failures must not abort the loop")
	}
}
