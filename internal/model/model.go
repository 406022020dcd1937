// Package model содержит доменные сущности витрины мини-приложения.
package model

import "time"

// CatalogItem описывает покупаемую группу (тариф доступа) каталога.
// Цена указана в минимальных единицах валюты; отсутствие цены означает
// использование единой цены каталога.
type CatalogItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price *int64 `json:"price,omitempty"`
}

// InvoiceStatus описывает статус оплаты счёта.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "PENDING"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
)

// Invoice описывает счёт на оплату выбранных групп.
// Статус монотонный: после PAID счёт не возвращается в PENDING.
type Invoice struct {
	ID        string
	UserID    int64
	Amount    int64
	Groups    []string
	Status    InvoiceStatus
	QRPayload []byte
	CreatedAt time.Time
	PaidAt    *time.Time
}

// InviteLog описывает попытку отправки приглашения в группу по оплаченному счёту.
type InviteLog struct {
	InvoiceID  string
	GroupID    string
	InviteLink *string
	Error      *string
	CreatedAt  time.Time
}
