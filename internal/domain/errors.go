package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProductNotFound — товар отсутствует или снят с продажи.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvalidQuantity — количество <= 0 или меньше уже отгруженного.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrMissingCustomerField — не заполнено обязательное поле покупателя.
	ErrMissingCustomerField = errors.New("missing customer field")
	// ErrItemsRequired — в заказе нет ни одной позиции.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// ErrPriceInvalid — отрицательная цена.
	ErrPriceInvalid = errors.New("price must be non-negative")
	ErrSKURequired  = errors.New("product sku is required")
	// ErrSKUConflict — SKU уже занят другим товаром.
	ErrSKUConflict = errors.New("product sku already exists")

	// ErrInsufficientStock — на складе меньше, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition — переход статуса запрещён машиной состояний.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrOrderImmutable — позиции заказа нельзя менять в текущем статусе.
	ErrOrderImmutable = errors.New("order items cannot be changed in current status")
	// ErrConcurrencyConflict — конфликт блокировок/сериализации, операцию можно повторить.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrExternalService — ошибка внешнего сервиса атрибуции; не влияет на заказ.
	ErrExternalService = errors.New("external service error")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderItemNotFound — позиция не найдена или принадлежит другому заказу.
	ErrOrderItemNotFound = errors.New("order item not found")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrCampaignNotFound  = errors.New("campaign not found")
	// ErrConversionNotFound — у заказа нет конверсии.
	ErrConversionNotFound = errors.New("conversion not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// StockError детализирует нехватку товара.
type StockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (requested %d, available %d)",
		e.ProductID, e.Requested, e.Available)
}

// Unwrap позволяет сравнивать через errors.Is(err, ErrInsufficientStock).
func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// NewStockError создаёт ошибку нехватки товара.
func NewStockError(productID int64, requested, available int) error {
	return &StockError{ProductID: productID, Requested: requested, Available: available}
}

// ProductNotFound оборачивает ErrProductNotFound идентификатором товара.
func ProductNotFound(productID int64) error {
	return fmt.Errorf("%w: id=%d", ErrProductNotFound, productID)
}

// MissingField оборачивает ErrMissingCustomerField именем поля.
func MissingField(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingCustomerField, field)
}

// IsValidation — ошибки входных данных, исправляемые клиентом.
func IsValidation(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrMissingCustomerField) ||
		errors.Is(err, ErrItemsRequired) ||
		errors.Is(err, ErrPriceInvalid) ||
		errors.Is(err, ErrSKURequired)
}

// IsRetryable сообщает, что операцию целиком можно повторить.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsNotFound объединяет все ошибки отсутствия сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrOrderItemNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrCampaignNotFound)
}

// IsIdempotencyConflict проверяет конфликт ключа идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
