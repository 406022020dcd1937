// Package checkout реализует оркестрацию оформления покупки: проверку
// выбора, создание счёта, опрос статуса оплаты и сигнал завершения.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/billing"
	"github.com/mmeshcher/storefront-system/internal/catalog"
	"github.com/mmeshcher/storefront-system/internal/model"
)

// State описывает состояние процесса оформления.
type State string

const (
	StateIdle            State = "IDLE"
	StateInvoicePending  State = "INVOICE_PENDING"
	StateAwaitingPayment State = "AWAITING_PAYMENT"
	StatePaid            State = "PAID"
	StateFailed          State = "FAILED"
	StateAbandoned       State = "ABANDONED"
)

const (
	// DefaultPollInterval задаёт период опроса статуса счёта.
	DefaultPollInterval = 3 * time.Second
	// DefaultPollBudget ограничивает число опросов до перехода в ABANDONED.
	DefaultPollBudget = 120
)

// Ошибки валидации перед созданием счёта. Обе видимы пользователю и не
// меняют состояние контроллера.
var (
	ErrEmptySelection      = errors.New("selection is empty")
	ErrIdentityUnavailable = errors.New("identity unavailable")
	ErrCheckoutInProgress  = errors.New("checkout already in progress")
	ErrNoSession           = errors.New("no checkout session")
)

// InvoiceAPI описывает контракт клиента счетов, используемый контроллером.
type InvoiceAPI interface {
	CreateInvoice(ctx context.Context, userID int64, groups []string, amount int64) (*billing.CreatedInvoice, error)
	Status(ctx context.Context, invoiceID string) (model.InvoiceStatus, bool)
}

// IdentitySource описывает источник идентификатора действующего пользователя.
type IdentitySource interface {
	Resolve() (int64, bool)
}

// Session связывает снимок выбора, сумму и созданный счёт одной попытки
// оформления. Одновременно активна не более одной сессии.
type Session struct {
	InvoiceID string
	UserID    int64
	Groups    []string
	Amount    int64
}

// Controller владеет состоянием оформления и таймером опроса.
// Никакой другой компонент состояние таймера не читает и не меняет.
type Controller struct {
	store    *catalog.Store
	pricing  *catalog.Pricing
	identity IdentitySource
	client   InvoiceAPI
	logger   *zap.Logger

	onPaid func()

	pollInterval time.Duration
	pollBudget   int

	mu            sync.Mutex
	state         State
	session       *Session
	failure       string
	cancelPoll    context.CancelFunc
	checkNow      chan struct{}
	paidSignalled bool
}

// NewController создаёт контроллер оформления. onPaid вызывается ровно один
// раз при подтверждении оплаты (например, чтобы хост закрыл мини-приложение).
func NewController(store *catalog.Store, pricing *catalog.Pricing, identity IdentitySource, client InvoiceAPI, logger *zap.Logger, onPaid func()) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:        store,
		pricing:      pricing,
		identity:     identity,
		client:       client,
		logger:       logger,
		onPaid:       onPaid,
		pollInterval: DefaultPollInterval,
		pollBudget:   DefaultPollBudget,
		state:        StateIdle,
	}
}

// SetPollPolicy меняет период и бюджет опроса. Применяется до Checkout.
func (c *Controller) SetPollPolicy(interval time.Duration, budget int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if interval > 0 {
		c.pollInterval = interval
	}
	if budget > 0 {
		c.pollBudget = budget
	}
}

// State возвращает текущее состояние контроллера.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session возвращает активную сессию оформления, если она есть.
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// FailureMessage возвращает текст последней ошибки создания счёта.
func (c *Controller) FailureMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Checkout начинает оформление: проверяет выбор и идентификатор, создаёт
// счёт и запускает опрос статуса. Повторный вызов при активной сессии
// отклоняется, чтобы два таймера не гонялись за общим состоянием.
func (c *Controller) Checkout(ctx context.Context) (Session, error) {
	c.mu.Lock()

	if c.state == StateInvoicePending || c.state == StateAwaitingPayment {
		c.mu.Unlock()
		return Session{}, ErrCheckoutInProgress
	}

	ids := c.store.SelectedIDs()
	if len(ids) == 0 {
		c.mu.Unlock()
		return Session{}, ErrEmptySelection
	}

	userID, ok := c.identity.Resolve()
	if !ok {
		c.mu.Unlock()
		return Session{}, ErrIdentityUnavailable
	}

	amount, err := c.pricing.Total(ids)
	if err != nil {
		c.mu.Unlock()
		return Session{}, fmt.Errorf("compute total: %w", err)
	}

	c.state = StateInvoicePending
	c.session = nil
	c.failure = ""
	c.paidSignalled = false
	c.mu.Unlock()

	inv, err := c.client.CreateInvoice(ctx, userID, ids, amount)
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.failure = err.Error()
		c.mu.Unlock()

		c.logger.Warn("invoice creation failed", zap.Error(err))
		return Session{}, err
	}

	session := Session{
		InvoiceID: inv.ID,
		UserID:    userID,
		Groups:    ids,
		Amount:    inv.Amount,
	}

	pollCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.session = &session
	c.state = StateAwaitingPayment
	c.cancelPoll = cancel
	c.checkNow = make(chan struct{}, 1)
	checkNow := c.checkNow
	interval := c.pollInterval
	budget := c.pollBudget
	c.mu.Unlock()

	c.logger.Info("invoice created, awaiting payment",
		zap.String("invoiceID", session.InvoiceID),
		zap.Int64("amount", session.Amount),
	)

	go c.pollLoop(pollCtx, session.InvoiceID, checkNow, interval, budget)

	return session, nil
}

// pollLoop опрашивает статус счёта до оплаты, отмены или исчерпания бюджета.
// Сигнал в checkNow вызывает внеочередную проверку, не сбивая расписание тикера.
func (c *Controller) pollLoop(ctx context.Context, invoiceID string, checkNow <-chan struct{}, interval time.Duration, budget int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-checkNow:
		}

		attempts++

		status, known := c.client.Status(ctx, invoiceID)
		if known && status == model.InvoiceStatusPaid {
			c.markPaid(invoiceID)
			return
		}
		if !known {
			// временный сбой опроса не показывается пользователю
			c.logger.Debug("status check skipped", zap.String("invoiceID", invoiceID))
		}

		if attempts >= budget {
			c.abandon(invoiceID)
			return
		}
	}
}

func (c *Controller) markPaid(invoiceID string) {
	c.mu.Lock()

	if c.state != StateAwaitingPayment && c.state != StateAbandoned {
		c.mu.Unlock()
		return
	}
	c.state = StatePaid
	c.stopPollLocked()

	signal := !c.paidSignalled
	c.paidSignalled = true
	c.mu.Unlock()

	c.logger.Info("invoice paid", zap.String("invoiceID", invoiceID))

	if signal && c.onPaid != nil {
		c.onPaid()
	}
}

func (c *Controller) abandon(invoiceID string) {
	c.mu.Lock()
	if c.state == StateAwaitingPayment {
		c.state = StateAbandoned
		c.stopPollLocked()
	}
	c.mu.Unlock()

	c.logger.Info("polling budget exhausted", zap.String("invoiceID", invoiceID))
}

func (c *Controller) stopPollLocked() {
	if c.cancelPoll != nil {
		c.cancelPoll()
		c.cancelPoll = nil
	}
	c.checkNow = nil
}

// CheckNow запрашивает внеочередную проверку статуса (кнопка «я уже оплатил»).
func (c *Controller) CheckNow() {
	c.mu.Lock()
	ch := c.checkNow
	c.mu.Unlock()

	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Recheck выполняет ровно одну ручную проверку статуса после остановки
// автоматического опроса. Если бэкенд подтверждает оплату, сессия
// завершается как оплаченная.
func (c *Controller) Recheck(ctx context.Context) (model.InvoiceStatus, error) {
	c.mu.Lock()
	if c.state != StateAbandoned || c.session == nil {
		c.mu.Unlock()
		return "", ErrNoSession
	}
	invoiceID := c.session.InvoiceID
	c.mu.Unlock()

	status, known := c.client.Status(ctx, invoiceID)
	if !known {
		return model.InvoiceStatusPending, nil
	}

	if status == model.InvoiceStatusPaid {
		c.markPaid(invoiceID)
	}

	return status, nil
}

// Cancel останавливает таймер опроса детерминированно, без ожидания
// сборщика мусора. Активное ожидание оплаты переходит в ABANDONED.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAwaitingPayment {
		c.state = StateAbandoned
	}
	c.stopPollLocked()
}

// Reset возвращает контроллер в IDLE после завершённой или неудавшейся
// попытки, позволяя пользователю оформить покупку заново.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateInvoicePending || c.state == StateAwaitingPayment {
		return ErrCheckoutInProgress
	}

	c.state = StateIdle
	c.session = nil
	c.failure = ""
	c.paidSignalled = false
	return nil
}
