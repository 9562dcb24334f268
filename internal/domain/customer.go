package domain

import (
	"strings"
	"time"
)

// Customer — покупатель; телефон служит ключом upsert.
type Customer struct {
	ID        int64
	FullName  string
	Phone     string
	Email     string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет обязательные поля покупателя.
func (c Customer) Validate() error {
	if strings.TrimSpace(c.FullName) == "" {
		return MissingField("full_name")
	}
	if strings.TrimSpace(c.Phone) == "" {
		return MissingField("phone")
	}
	return nil
}

// Merge переносит непустые поля из update в существующую запись.
func (c Customer) Merge(update Customer) Customer {
	if v := strings.TrimSpace(update.FullName); v != "" {
		c.FullName = v
	}
	if v := strings.TrimSpace(update.Email); v != "" {
		c.Email = v
	}
	if v := strings.TrimSpace(update.Address); v != "" {
		c.Address = v
	}
	return c
}
