// Package validation содержит функции валидации входных данных.
package validation

import (
	"unicode"

	"github.com/google/uuid"
)

// IsValidInvoiceID проверяет, что идентификатор счёта является корректным UUID.
func IsValidInvoiceID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// IsValidGroupID проверяет идентификатор группы каталога: непустая строка
// разумной длины без пробельных и управляющих символов.
func IsValidGroupID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
