// Package billing предоставляет клиент HTTP-интерфейса счетов витрины.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/storefront-system/internal/model"
)

// CreateError возвращается при отказе бэкенда создать счёт.
// Message содержит текст ошибки бэкенда дословно.
type CreateError struct {
	Message string
}

func (e *CreateError) Error() string {
	return "create invoice: " + e.Message
}

// CreatedInvoice описывает результат создания счёта.
type CreatedInvoice struct {
	ID     string
	Amount int64
}

// StoreConfig описывает конфигурацию витрины, отдаваемую бэкендом.
type StoreConfig struct {
	Price  int64               `json:"price"`
	Groups []model.CatalogItem `json:"groups"`
}

// Client инкапсулирует HTTP-взаимодействие с сервисом счетов.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент сервиса счетов по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) base() string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}

type createRequest struct {
	UserID int64    `json:"user_id"`
	Groups []string `json:"groups"`
	Amount int64    `json:"amount"`
}

type createResponse struct {
	InvoiceID string `json:"invoice_id"`
}

// CreateInvoice создаёт счёт одним запросом, без автоматических повторов.
// Ответ принимается только в явном контракте {"invoice_id": ...}; любая
// другая форма считается ошибкой создания.
func (c *Client) CreateInvoice(ctx context.Context, userID int64, groups []string, amount int64) (*CreatedInvoice, error) {
	body, err := json.Marshal(createRequest{
		UserID: userID,
		Groups: groups,
		Amount: amount,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.base() + "/api/invoice"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CreateError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CreateError{Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &CreateError{Message: strings.TrimSpace(string(raw))}
	}

	var res createResponse
	if err := json.Unmarshal(raw, &res); err != nil || res.InvoiceID == "" {
		return nil, &CreateError{Message: "unexpected response shape: " + strings.TrimSpace(string(raw))}
	}

	return &CreatedInvoice{
		ID:     res.InvoiceID,
		Amount: amount,
	}, nil
}

type statusResponse struct {
	Status string `json:"status"`
}

// Status запрашивает статус счёта. Любой сбой транспорта или бэкенда
// трактуется как «статус неизвестен», а не как ошибка: цикл опроса
// просто пропускает такт.
func (c *Client) Status(ctx context.Context, invoiceID string) (model.InvoiceStatus, bool) {
	url := fmt.Sprintf("%s/api/invoice/%s/status", c.base(), invoiceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var res statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", false
	}

	switch model.InvoiceStatus(res.Status) {
	case model.InvoiceStatusPending, model.InvoiceStatusPaid:
		return model.InvoiceStatus(res.Status), true
	default:
		return "", false
	}
}

// QRImageURL строит адрес изображения QR для счёта. Сетевых вызовов нет.
// Временная метка в запросе не даёт промежуточным кешам отдавать
// устаревшую картинку при повторном показе.
func (c *Client) QRImageURL(invoiceID string, amount int64) string {
	return fmt.Sprintf("%s/api/qr/%s.png?amount=%d&ts=%d", c.base(), invoiceID, amount, time.Now().Unix())
}

// FetchConfig получает конфигурацию каталога при старте клиента.
// В отличие от создания счёта стартовый запрос повторяется при сбоях.
func (c *Client) FetchConfig(ctx context.Context) (*StoreConfig, error) {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	rc.HTTPClient.Timeout = 5 * time.Second

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/api/config", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := rc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch config: unexpected status %d", resp.StatusCode)
	}

	var cfg StoreConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, nil
}
