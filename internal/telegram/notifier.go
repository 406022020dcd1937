// Package telegram отправляет приглашения в группы через Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sethvargo/go-retry"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier инкапсулирует вызовы Bot API, нужные для доставки приглашений:
// создание одноразовой пригласительной ссылки и личное сообщение пользователю.
type Notifier struct {
	token      string
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewNotifier создаёт клиент Bot API с указанным токеном бота.
func NewNotifier(token string) *Notifier {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	rc.HTTPClient.Timeout = 10 * time.Second

	return &Notifier{
		token:      token,
		baseURL:    defaultAPIBase,
		httpClient: rc,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (n *Notifier) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", n.baseURL, n.token, method)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var res apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}

	if !res.OK {
		return nil, fmt.Errorf("%s: %s", method, res.Description)
	}

	return res.Result, nil
}

// CreateInviteLink создаёт одноразовую пригласительную ссылку в группу.
func (n *Notifier) CreateInviteLink(ctx context.Context, chatID string) (string, error) {
	raw, err := n.call(ctx, "createChatInviteLink", map[string]any{
		"chat_id":      chatID,
		"member_limit": 1,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		InviteLink string `json:"invite_link"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode invite link: %w", err)
	}
	if result.InviteLink == "" {
		return "", fmt.Errorf("createChatInviteLink: empty invite_link")
	}

	return result.InviteLink, nil
}

// ExportInviteLink возвращает основную пригласительную ссылку группы.
// Используется как запасной вариант, когда создать отдельную ссылку нельзя.
func (n *Notifier) ExportInviteLink(ctx context.Context, chatID string) (string, error) {
	raw, err := n.call(ctx, "exportChatInviteLink", map[string]any{
		"chat_id": chatID,
	})
	if err != nil {
		return "", err
	}

	var link string
	if err := json.Unmarshal(raw, &link); err != nil {
		return "", fmt.Errorf("decode exported link: %w", err)
	}

	return link, nil
}

// SendMessage отправляет личное сообщение пользователю.
func (n *Notifier) SendMessage(ctx context.Context, userID int64, text string) error {
	_, err := n.call(ctx, "sendMessage", map[string]any{
		"chat_id": userID,
		"text":    text,
	})
	return err
}

// SendGroupInvite доставляет пользователю приглашение в группу: создаёт
// ссылку с ограниченным числом повторов, при неудаче экспортирует основную,
// затем отправляет её личным сообщением. Возвращает отправленную ссылку.
func (n *Notifier) SendGroupInvite(ctx context.Context, userID int64, chatID, groupName string) (string, error) {
	var link string

	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		link, err = n.CreateInviteLink(ctx, chatID)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		link, err = n.ExportInviteLink(ctx, chatID)
		if err != nil {
			return "", fmt.Errorf("no invite link for %s: %w", chatID, err)
		}
	}

	text := fmt.Sprintf("Invitation to %s:\n%s", groupName, link)
	if err := n.SendMessage(ctx, userID, text); err != nil {
		return "", fmt.Errorf("send invite dm: %w", err)
	}

	return link, nil
}
