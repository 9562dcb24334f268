// Package view описывает JSON-представления заказов и товаров для внешних API.
package view

import (
	"time"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/service/orders"
)

// Item — позиция заказа.
type Item struct {
	ID              int64  `json:"id"`
	ProductID       int64  `json:"product_id"`
	Quantity        int    `json:"quantity"`
	ShippedQuantity int    `json:"shipped_quantity"`
	PriceMinor      int64  `json:"price_minor"`
	SubtotalMinor   int64  `json:"subtotal_minor"`
	Subtotal        string `json:"subtotal"`
}

// TimelineEntry — запись истории заказа.
type TimelineEntry struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	Status     string    `json:"status"`
	TotalMinor int64     `json:"total_minor"`
	Total      string    `json:"total"`
	Occurred   time.Time `json:"occurred_at"`
}

// Conversion — зафиксированная конверсия.
type Conversion struct {
	CampaignID *int64 `json:"campaign_id,omitempty"`
	ValueMinor int64  `json:"value_minor"`
	Value      string `json:"value"`
}

// Order — заказ с вычисленной суммой.
type Order struct {
	UID               string          `json:"uid"`
	Status            string          `json:"status"`
	CustomerID        int64           `json:"customer_id"`
	ShippingAddress   string          `json:"shipping_address,omitempty"`
	PaymentReference  string          `json:"payment_reference,omitempty"`
	AttributionSource string          `json:"attribution_source,omitempty"`
	TotalMinor        int64           `json:"total_minor"`
	Total             string          `json:"total"`
	Items             []Item          `json:"items"`
	Conversion        *Conversion     `json:"conversion,omitempty"`
	Timeline          []TimelineEntry `json:"timeline,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Product — товар каталога.
type Product struct {
	ID         int64  `json:"id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Price      string `json:"price"`
	Stock      int    `json:"stock"`
	Active     bool   `json:"active"`
	Available  bool   `json:"available"`
}

// FromOrder строит представление заказа без истории.
func FromOrder(o domain.Order) Order {
	items := make([]Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, Item{
			ID:              it.ID,
			ProductID:       it.ProductID,
			Quantity:        it.Quantity,
			ShippedQuantity: it.ShippedQuantity,
			PriceMinor:      it.PriceMinor,
			SubtotalMinor:   it.SubtotalMinor(),
			Subtotal:        domain.FormatMinor(it.SubtotalMinor()),
		})
	}
	total := o.TotalMinor()
	return Order{
		UID:               o.UID,
		Status:            string(o.Status),
		CustomerID:        o.CustomerID,
		ShippingAddress:   o.ShippingAddress,
		PaymentReference:  o.PaymentReference,
		AttributionSource: o.AttributionSource,
		TotalMinor:        total,
		Total:             domain.FormatMinor(total),
		Items:             items,
		CreatedAt:         o.CreatedAt,
	}
}

// FromConversion строит представление конверсии.
func FromConversion(c domain.Conversion) *Conversion {
	return &Conversion{
		CampaignID: c.CampaignID,
		ValueMinor: c.ValueMinor,
		Value:      domain.FormatMinor(c.ValueMinor),
	}
}

// FromDetails дополняет заказ конверсией и историей.
func FromDetails(d orders.Details) Order {
	out := FromOrder(d.Order)
	if d.Conversion != nil {
		out.Conversion = FromConversion(*d.Conversion)
	}
	for _, ev := range d.Timeline {
		out.Timeline = append(out.Timeline, TimelineEntry{
			Type:       ev.Type,
			Reason:     ev.Reason,
			Status:     string(ev.Status),
			TotalMinor: ev.TotalMinor,
			Total:      domain.FormatMinor(ev.TotalMinor),
			Occurred:   ev.Occurred,
		})
	}
	return out
}

// FromProduct строит представление товара.
func FromProduct(p domain.Product) Product {
	return Product{
		ID:         p.ID,
		SKU:        p.SKU,
		Name:       p.Name,
		PriceMinor: p.PriceMinor,
		Price:      domain.FormatMinor(p.PriceMinor),
		Stock:      p.Stock,
		Active:     p.Active,
		Available:  p.Available(),
	}
}

// FromProducts строит представления списка товаров.
func FromProducts(products []domain.Product) []Product {
	out := make([]Product, 0, len(products))
	for _, p := range products {
		out = append(out, FromProduct(p))
	}
	return out
}
