package domain

import "time"

// Product — товар каталога со счётчиком остатка.
type Product struct {
	ID   int64
	SKU  string
	Name string
	// PriceMinor — текущая цена в минимальных денежных единицах.
	PriceMinor int64
	// Stock никогда не бывает отрицательным.
	Stock     int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available — товар можно заказать прямо сейчас.
func (p Product) Available() bool {
	return p.Active && p.Stock > 0
}

// Validate проверяет поля товара перед сохранением.
func (p Product) Validate() []error {
	var errs []error
	if p.SKU == "" {
		errs = append(errs, ErrSKURequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrPriceInvalid)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrInvalidQuantity)
	}
	return errs
}
