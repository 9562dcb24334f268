package grpcsvc

import "github.com/vladislavdragonenkov/eshop/internal/service/view"

// OrderRef адресует заказ по UID.
type OrderRef struct {
	UID string `json:"uid"`
}

type CancelOrderRequest struct {
	UID    string `json:"uid"`
	Reason string `json:"reason,omitempty"`
}

type MarkPaidRequest struct {
	UID              string `json:"uid"`
	PaymentReference string `json:"payment_reference"`
}

// ShipItemRequest — частичная отгрузка позиции.
type ShipItemRequest struct {
	UID      string `json:"uid"`
	ItemID   int64  `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// AddItemRequest — новая позиция; PriceMinor переопределяет цену каталога.
type AddItemRequest struct {
	UID        string `json:"uid"`
	ProductID  int64  `json:"product_id"`
	Quantity   int    `json:"quantity"`
	PriceMinor *int64 `json:"price_minor,omitempty"`
}

// RemoveItemRequest удаляет позицию.
type RemoveItemRequest struct {
	UID    string `json:"uid"`
	ItemID int64  `json:"item_id"`
}

// MutateItemRequest меняет количество и/или товар позиции.
type MutateItemRequest struct {
	UID       string `json:"uid"`
	ItemID    int64  `json:"item_id"`
	Quantity  *int   `json:"quantity,omitempty"`
	ProductID *int64 `json:"product_id,omitempty"`
}

// OrderResponse возвращает состояние заказа после операции.
type OrderResponse struct {
	Order view.Order `json:"order"`
}

type CreateProductRequest struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Stock      int    `json:"stock"`
	Active     bool   `json:"active"`
}

// UpdateProductRequest — правка товара; отсутствующие поля не меняются.
type UpdateProductRequest struct {
	ID         int64   `json:"id"`
	Name       *string `json:"name,omitempty"`
	PriceMinor *int64  `json:"price_minor,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

// AdjustStockRequest — приход (delta > 0) или списание (delta < 0).
type AdjustStockRequest struct {
	ID    int64 `json:"id"`
	Delta int   `json:"delta"`
}

// ListProductsRequest пуст.
type ListProductsRequest struct{}

type ProductResponse struct {
	Product view.Product `json:"product"`
}

type ListProductsResponse struct {
	Products []view.Product `json:"products"`
}
