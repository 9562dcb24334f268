package domain

import "time"

// IdempotencyHeader — имя заголовка/метаданных с ключом идемпотентности.
const IdempotencyHeader = "idempotency-key"

// IdempotencyState — стадия оформления заказа, занятого ключом.
type IdempotencyState string

const (
	// IdempotencyPending: заказ по ключу ещё оформляется.
	IdempotencyPending IdempotencyState = "pending"
	// IdempotencyCompleted: заказ создан, ответ сохранён.
	IdempotencyCompleted IdempotencyState = "completed"
	// IdempotencyRejected: оформление завершилось отказом (нехватка, валидация).
	IdempotencyRejected IdempotencyState = "rejected"
)

// Valid проверяет, что стадия известна.
func (s IdempotencyState) Valid() bool {
	switch s {
	case IdempotencyPending, IdempotencyCompleted, IdempotencyRejected:
		return true
	}
	return false
}

// Finished сообщает, что ответ по ключу уже зафиксирован.
func (s IdempotencyState) Finished() bool {
	return s == IdempotencyCompleted || s == IdempotencyRejected
}

// IdempotencyOutcome — сохранённый ответ транспорта.
type IdempotencyOutcome struct {
	// Code: HTTP-статус или gRPC-код, в зависимости от точки входа.
	Code     int
	Body     []byte
	OrderUID string
}

// IdempotencyRecord связывает ключ клиента с отпечатком запроса и исходом оформления.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	State       IdempotencyState
	Outcome     IdempotencyOutcome
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired сообщает, что ключ можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Clone копирует запись вместе с телом ответа.
func (r IdempotencyRecord) Clone() IdempotencyRecord {
	r.Outcome.Body = append([]byte(nil), r.Outcome.Body...)
	return r
}
