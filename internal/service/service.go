// Package service реализует бизнес-логику сервиса витрины.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/catalog"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/validation"
)

// Ошибки валидации запроса на создание счёта.
var (
	ErrEmptyGroups    = errors.New("empty group selection")
	ErrUnknownGroup   = errors.New("unknown group")
	ErrAmountTooSmall = errors.New("amount below minimum")
	// ErrAmountMismatch возвращается, когда сумма клиента расходится с суммой,
	// пересчитанной на сервере. Источник истины о сумме находится на сервере.
	ErrAmountMismatch = errors.New("amount mismatch")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateInvoice(ctx context.Context, inv *model.Invoice) error
	GetInvoice(ctx context.Context, invoiceID string) (*model.Invoice, error)
	MarkPaid(ctx context.Context, invoiceID string) (bool, error)
	UpdateQRPayload(ctx context.Context, invoiceID string, payload []byte) error
	ListInvoices(ctx context.Context, limit int) ([]model.Invoice, error)
	AddInviteLog(ctx context.Context, log *model.InviteLog) error
	ListInviteLogs(ctx context.Context, invoiceID string) ([]model.InviteLog, error)
}

// Notifier описывает доставку приглашений в группы.
type Notifier interface {
	SendGroupInvite(ctx context.Context, userID int64, chatID, groupName string) (string, error)
}

// Service содержит бизнес-логику сервиса витрины.
type Service struct {
	repo      Repository
	store     *catalog.Store
	pricing   *catalog.Pricing
	notifier  Notifier
	minAmount int64
	logger    *zap.Logger
}

// NewService создаёт сервис витрины. notifier может быть nil, тогда
// приглашения не отправляются.
func NewService(repo Repository, store *catalog.Store, pricing *catalog.Pricing, notifier Notifier, minAmount int64, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minAmount <= 0 {
		minAmount = 1
	}
	return &Service{
		repo:      repo,
		store:     store,
		pricing:   pricing,
		notifier:  notifier,
		minAmount: minAmount,
		logger:    logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Config возвращает единую цену и снимок каталога для клиентов.
func (s *Service) Config() (int64, []model.CatalogItem) {
	return s.pricing.Uniform(), s.store.Items()
}

// CreateInvoice создаёт счёт на оплату выбранных групп. Список групп
// проверяется по каталогу, сумма пересчитывается на сервере; сумма клиента
// принимается только для сверки.
func (s *Service) CreateInvoice(ctx context.Context, userID int64, groups []string, amount int64) (*model.Invoice, error) {
	if len(groups) == 0 {
		return nil, ErrEmptyGroups
	}

	for _, gid := range groups {
		if !validation.IsValidGroupID(gid) || !s.store.Contains(gid) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, gid)
		}
	}

	total, err := s.pricing.Total(groups)
	if err != nil {
		return nil, fmt.Errorf("compute total: %w", err)
	}
	if total < s.minAmount {
		return nil, fmt.Errorf("%w: minimum %d", ErrAmountTooSmall, s.minAmount)
	}
	if amount != total {
		return nil, fmt.Errorf("%w: got %d, server computed %d", ErrAmountMismatch, amount, total)
	}

	inv := &model.Invoice{
		ID:     uuid.NewString(),
		UserID: userID,
		Amount: total,
		Groups: groups,
		Status: model.InvoiceStatusPending,
	}

	if err := s.repo.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	s.logger.Info("invoice created",
		zap.String("invoiceID", inv.ID),
		zap.Int64("userID", userID),
		zap.Int64("amount", total),
	)

	// прогрев кеша QR, чтобы первый показ картинки не ждал генерации
	go s.prewarmQR(inv)

	return inv, nil
}

func (s *Service) prewarmQR(inv *model.Invoice) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	png, err := encodeQR(inv)
	if err != nil {
		s.logger.Warn("qr prewarm encode failed", zap.String("invoiceID", inv.ID), zap.Error(err))
		return
	}
	if err := s.repo.UpdateQRPayload(ctx, inv.ID, png); err != nil {
		s.logger.Warn("qr prewarm cache failed", zap.String("invoiceID", inv.ID), zap.Error(err))
	}
}

// PaymentMessage возвращает платёжное сообщение счёта, по которому вебхук
// провайдера сопоставляет платёж со счётом.
func PaymentMessage(invoiceID string) string {
	return "INV:" + invoiceID
}

func encodeQR(inv *model.Invoice) ([]byte, error) {
	content := fmt.Sprintf("%s\namount:%d", PaymentMessage(inv.ID), inv.Amount)
	return qrcode.Encode(content, qrcode.Medium, 512)
}

// Invoice возвращает счёт по идентификатору без изменения его состояния.
func (s *Service) Invoice(ctx context.Context, invoiceID string) (*model.Invoice, error) {
	if !validation.IsValidInvoiceID(invoiceID) {
		return nil, repository.ErrInvoiceNotFound
	}
	return s.repo.GetInvoice(ctx, invoiceID)
}

// Status возвращает статус счёта.
func (s *Service) Status(ctx context.Context, invoiceID string) (model.InvoiceStatus, error) {
	if !validation.IsValidInvoiceID(invoiceID) {
		return "", repository.ErrInvoiceNotFound
	}

	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	return inv.Status, nil
}

// QRImage возвращает PNG с QR платёжного сообщения счёта. Картинка
// кешируется на строке счёта после первой генерации.
func (s *Service) QRImage(ctx context.Context, invoiceID string) ([]byte, error) {
	if !validation.IsValidInvoiceID(invoiceID) {
		return nil, repository.ErrInvoiceNotFound
	}

	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if len(inv.QRPayload) > 0 {
		return inv.QRPayload, nil
	}

	png, err := encodeQR(inv)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	if err := s.repo.UpdateQRPayload(ctx, invoiceID, png); err != nil {
		// кеш необязателен, картинку всё равно отдаём
		s.logger.Warn("qr cache failed", zap.String("invoiceID", invoiceID), zap.Error(err))
	}

	return png, nil
}

// ProcessPayment отмечает счёт оплаченным и при первом переходе в PAID
// рассылает приглашения. Повторный вызов для оплаченного счёта идемпотентен:
// приглашения заново не отправляются.
func (s *Service) ProcessPayment(ctx context.Context, invoiceID string) (*model.Invoice, bool, error) {
	if !validation.IsValidInvoiceID(invoiceID) {
		return nil, false, repository.ErrInvoiceNotFound
	}

	alreadyPaid, err := s.repo.MarkPaid(ctx, invoiceID)
	if err != nil {
		return nil, false, err
	}

	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, false, err
	}

	if !alreadyPaid {
		s.logger.Info("invoice paid", zap.String("invoiceID", invoiceID))
		s.SendInvites(ctx, inv)
	}

	return inv, alreadyPaid, nil
}

// SendInvites рассылает приглашения по всем группам счёта. Ошибки доставки
// записываются в журнал приглашений и не прерывают обработку платежа.
func (s *Service) SendInvites(ctx context.Context, inv *model.Invoice) {
	if s.notifier == nil {
		return
	}

	for _, gid := range inv.Groups {
		name := gid
		if it, ok := s.store.Item(gid); ok && it.Name != "" {
			name = it.Name
		}

		link, err := s.notifier.SendGroupInvite(ctx, inv.UserID, gid, name)

		log := &model.InviteLog{
			InvoiceID: inv.ID,
			GroupID:   gid,
		}
		if err != nil {
			msg := err.Error()
			log.Error = &msg
			s.logger.Warn("invite delivery failed",
				zap.String("invoiceID", inv.ID),
				zap.String("groupID", gid),
				zap.Error(err),
			)
		} else {
			log.InviteLink = &link
		}

		if logErr := s.repo.AddInviteLog(ctx, log); logErr != nil {
			s.logger.Warn("invite log skipped", zap.String("invoiceID", inv.ID), zap.Error(logErr))
		}
	}
}

// Invoices возвращает последние счета.
func (s *Service) Invoices(ctx context.Context, limit int) ([]model.Invoice, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListInvoices(ctx, limit)
}

// InviteLogs возвращает историю приглашений по счёту.
func (s *Service) InviteLogs(ctx context.Context, invoiceID string) ([]model.InviteLog, error) {
	return s.repo.ListInviteLogs(ctx, invoiceID)
}
