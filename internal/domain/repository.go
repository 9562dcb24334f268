package domain

import (
	"context"
	"time"
)

// ProductRepository — доступ к товарам внутри транзакции.
type ProductRepository interface {
	// Create сохраняет новый товар и заполняет ID. ErrSKUConflict при дубликате SKU.
	Create(ctx context.Context, product *Product) error
	// Get читает товар без блокировки.
	Get(ctx context.Context, id int64) (Product, error)
	// List возвращает все товары по возрастанию ID.
	List(ctx context.Context) ([]Product, error)
	// Lock блокирует строки товаров по возрастанию ID до конца транзакции.
	// Отсутствующие товары в результат не попадают.
	Lock(ctx context.Context, ids []int64) (map[int64]Product, error)
	// AdjustStock атомарно меняет остаток на delta и возвращает новое значение.
	// Если остаток стал бы отрицательным, возвращает ErrInsufficientStock и ничего не меняет.
	AdjustStock(ctx context.Context, id int64, delta int) (int, error)
	// Update сохраняет редактируемые поля товара (имя, цена, активность).
	Update(ctx context.Context, product Product) error
}

// CustomerRepository — покупатели.
type CustomerRepository interface {
	// UpsertByPhone создаёт покупателя или обновляет непустые поля существующего.
	UpsertByPhone(ctx context.Context, customer Customer) (Customer, error)
	Get(ctx context.Context, id int64) (Customer, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ (без позиций) и заполняет ID.
	Create(ctx context.Context, order *Order) error
	// GetByUID возвращает заказ без позиций или ErrOrderNotFound.
	GetByUID(ctx context.Context, uid string) (Order, error)
	// LockByUID то же, что GetByUID, но блокирует строку заказа.
	LockByUID(ctx context.Context, uid string) (Order, error)
	UpdateStatus(ctx context.Context, id int64, status OrderStatus) error
	SetPaymentReference(ctx context.Context, id int64, reference string) error
	// SetAttribution фиксирует источник атрибуции (может быть пустым) и сумму конверсии.
	SetAttribution(ctx context.Context, id int64, source string, conversionValueMinor int64) error
}

// OrderItemRepository — позиции заказа.
type OrderItemRepository interface {
	// Create сохраняет позицию и заполняет ID.
	Create(ctx context.Context, item *OrderItem) error
	// Get возвращает позицию или ErrOrderItemNotFound.
	Get(ctx context.Context, id int64) (OrderItem, error)
	// Update сохраняет товар, количество и отгруженное количество; цена не меняется.
	Update(ctx context.Context, item OrderItem) error
	Delete(ctx context.Context, id int64) error
	ListByOrder(ctx context.Context, orderID int64) ([]OrderItem, error)
}

// CampaignRepository — маркетинговые кампании.
type CampaignRepository interface {
	Get(ctx context.Context, id int64) (Campaign, error)
	// GetOrCreate ищет кампанию по (source, medium, name) или создаёт её.
	GetOrCreate(ctx context.Context, campaign Campaign) (Campaign, error)
}

// ConversionRepository — конверсии, не более одной на заказ.
type ConversionRepository interface {
	// GetOrCreate возвращает существующую конверсию заказа или создаёт новую.
	// created=false означает, что запись уже была.
	GetOrCreate(ctx context.Context, conversion Conversion) (Conversion, bool, error)
	GetByOrder(ctx context.Context, orderID int64) (Conversion, error)
}

// Tx — набор репозиториев одной транзакции.
type Tx interface {
	Products() ProductRepository
	Customers() CustomerRepository
	Orders() OrderRepository
	Items() OrderItemRepository
	Campaigns() CampaignRepository
	Conversions() ConversionRepository
	Outbox() OutboxWriter
	Timeline() TimelineWriter
}

// TxManager выполняет fn атомарно: все изменения фиксируются вместе или откатываются.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// OutboxWriter ставит событие в outbox в рамках транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OutboxRepository позволяет воркеру забирать и помечать события.
type OutboxRepository interface {
	OutboxWriter
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineWriter добавляет запись в историю заказа.
type TimelineWriter interface {
	Append(ctx context.Context, event TimelineEvent) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	TimelineWriter
	List(ctx context.Context, orderID int64) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит ключи повторного оформления заказа.
// Ключи живут вне транзакций заказа: отказ в оформлении тоже сохраняется.
type IdempotencyRepository interface {
	// Claim занимает ключ в стадии pending. Живой ключ возвращается вместе с
	// ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
	Claim(ctx context.Context, key, requestHash string, expiresAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	// Finish фиксирует исход: state должен быть завершающим.
	Finish(ctx context.Context, key string, state IdempotencyState, outcome IdempotencyOutcome) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
