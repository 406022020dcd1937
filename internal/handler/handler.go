// Package handler содержит HTTP-обработчики API сервиса витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/identity"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Config() (int64, []model.CatalogItem)
	CreateInvoice(ctx context.Context, userID int64, groups []string, amount int64) (*model.Invoice, error)
	Invoice(ctx context.Context, invoiceID string) (*model.Invoice, error)
	Status(ctx context.Context, invoiceID string) (model.InvoiceStatus, error)
	QRImage(ctx context.Context, invoiceID string) ([]byte, error)
	ProcessPayment(ctx context.Context, invoiceID string) (*model.Invoice, bool, error)
	SendInvites(ctx context.Context, inv *model.Invoice)
	Invoices(ctx context.Context, limit int) ([]model.Invoice, error)
}

// Handler реализует HTTP-обработчики API сервиса витрины.
type Handler struct {
	service  Service
	logger   *zap.Logger
	botToken string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов. botToken
// используется для проверки подписи Telegram init data; пустой токен
// отключает проверку.
func NewHandler(s Service, logger *zap.Logger, botToken string) *Handler {
	return &Handler{
		service:  s,
		logger:   logger,
		botToken: botToken,
	}
}

type configResponse struct {
	Price  int64               `json:"price"`
	Groups []model.CatalogItem `json:"groups"`
}

// GetConfig возвращает единую цену и каталог групп для клиента витрины.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	price, groups := h.service.Config()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(configResponse{Price: price, Groups: groups}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type createInvoiceRequest struct {
	UserID int64    `json:"user_id"`
	Groups []string `json:"groups"`
	Amount int64    `json:"amount"`
}

type createInvoiceResponse struct {
	InvoiceID string `json:"invoice_id"`
	Amount    int64  `json:"amount"`
}

// CreateInvoice создаёт счёт на оплату выбранных групп. Идентификатор
// пользователя берётся из подписанной Telegram init data в заголовке
// X-Telegram-Init-Data, поле user_id тела служит запасным вариантом.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	resolver := identity.NewResolver(h.botToken, r.Header.Get("X-Telegram-Init-Data"), req.UserID)
	userID, ok := resolver.Resolve()
	if !ok {
		http.Error(w, "user identity is not available", http.StatusUnauthorized)
		return
	}

	inv, err := h.service.CreateInvoice(r.Context(), userID, req.Groups, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyGroups),
			errors.Is(err, service.ErrUnknownGroup),
			errors.Is(err, service.ErrAmountTooSmall),
			errors.Is(err, service.ErrAmountMismatch):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("create invoice error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(createInvoiceResponse{InvoiceID: inv.ID, Amount: inv.Amount}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

// InvoiceStatus возвращает статус счёта.
func (h *Handler) InvoiceStatus(w http.ResponseWriter, r *http.Request) {
	invoiceID := pathParam(r, "invoiceID")

	status, err := h.service.Status(r.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("invoice status error", zap.Error(err), zap.String("invoiceID", invoiceID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statusResponse{Status: string(status)}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// QRImage отдаёт PNG с QR платёжного сообщения счёта. Суффикс .png в
// идентификаторе допускается и отбрасывается.
func (h *Handler) QRImage(w http.ResponseWriter, r *http.Request) {
	invoiceID := strings.TrimSuffix(pathParam(r, "invoiceID"), ".png")

	png, err := h.service.QRImage(r.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("qr image error", zap.Error(err), zap.String("invoiceID", invoiceID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

var invoiceRefPattern = regexp.MustCompile(`INV:([0-9a-fA-F-]{36})`)

type webhookRequest struct {
	InvoiceID  string `json:"invoice_id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Event      string `json:"event"`
	Message    string `json:"message"`
	Note       string `json:"note"`
	Payload    string `json:"payload"`
}

func (req *webhookRequest) invoiceRef() string {
	if id := strings.TrimSpace(req.InvoiceID); id != "" {
		return id
	}
	if id := strings.TrimSpace(req.ExternalID); id != "" {
		return id
	}
	for _, text := range []string{req.Message, req.Note, req.Payload} {
		if m := invoiceRefPattern.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// paidStatus сообщает, описывает ли уведомление успешную оплату. Провайдеры
// передают статус в поле status либо event; уведомление без статуса не
// считается оплатой.
func (req *webhookRequest) paidStatus() bool {
	status := req.Status
	if status == "" {
		status = req.Event
	}
	return strings.Contains(strings.ToLower(status), "paid")
}

// PaymentWebhook обрабатывает уведомление платёжного провайдера. Счёт
// определяется по явному полю invoice_id или external_id либо по ссылке INV:<id> в тексте
// платежа. Повторная доставка уведомления безопасна.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !req.paidStatus() {
		// платёж не завершён, подтверждаем доставку без обработки
		w.WriteHeader(http.StatusOK)
		return
	}

	invoiceID := req.invoiceRef()
	if invoiceID == "" {
		http.Error(w, "invoice reference not found", http.StatusBadRequest)
		return
	}

	_, alreadyPaid, err := h.service.ProcessPayment(r.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("payment webhook error", zap.Error(err), zap.String("invoiceID", invoiceID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if alreadyPaid {
		h.logger.Info("duplicate payment notification", zap.String("invoiceID", invoiceID))
	}

	w.WriteHeader(http.StatusOK)
}

// ResendInvites повторно рассылает приглашения по счёту. Статус оплаты
// не меняется: в PAID счёт переводит только вебхук провайдера.
func (h *Handler) ResendInvites(w http.ResponseWriter, r *http.Request) {
	invoiceID := pathParam(r, "invoiceID")

	inv, err := h.service.Invoice(r.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("resend invites error", zap.Error(err), zap.String("invoiceID", invoiceID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.service.SendInvites(r.Context(), inv)

	w.WriteHeader(http.StatusOK)
}

type invoiceResponse struct {
	InvoiceID string   `json:"invoice_id"`
	UserID    int64    `json:"user_id"`
	Amount    int64    `json:"amount"`
	Groups    []string `json:"groups"`
	Status    string   `json:"status"`
	CreatedAt string   `json:"created_at"`
	PaidAt    *string  `json:"paid_at,omitempty"`
}

// ListInvoices возвращает последние счета для административного просмотра.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.Invoices(r.Context(), 0)
	if err != nil {
		h.logger.Error("list invoices error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(invoices) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		item := invoiceResponse{
			InvoiceID: inv.ID,
			UserID:    inv.UserID,
			Amount:    inv.Amount,
			Groups:    inv.Groups,
			Status:    string(inv.Status),
			CreatedAt: inv.CreatedAt.Format(time.RFC3339),
		}
		if inv.PaidAt != nil {
			paidAt := inv.PaidAt.Format(time.RFC3339)
			item.PaidAt = &paidAt
		}
		resp = append(resp, item)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// Health сообщает о готовности сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
