// Package checkout оформляет заказ одной транзакцией: покупатель, позиции,
// списание остатков и атрибуция фиксируются вместе или не фиксируются вовсе.
package checkout

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/metrics"
	"github.com/vladislavdragonenkov/eshop/internal/service/attribution"
	"github.com/vladislavdragonenkov/eshop/internal/service/inventory"
	"github.com/vladislavdragonenkov/eshop/internal/service/orderitem"
)

const operationCreateOrder = "create_order"

// CustomerInput — контактные данные покупателя из запроса.
type CustomerInput struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
	Address  string `json:"address,omitempty"`
}

// LineInput — строка заказа: товар и количество.
type LineInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// Request — канонический запрос на оформление заказа.
type Request struct {
	Customer        CustomerInput `json:"customer"`
	ShippingAddress string        `json:"shipping_address,omitempty"`
	Items           []LineInput   `json:"items"`
	// CampaignID приходит из сессии покупателя и может отсутствовать.
	CampaignID *int64 `json:"campaign_id,omitempty"`
}

// Result — итог оформления.
type Result struct {
	Order      domain.Order
	Conversion domain.Conversion
}

// Orchestrator оформляет заказы.
type Orchestrator struct {
	tx         domain.TxManager
	ledger     *inventory.Ledger
	items      *orderitem.Lifecycle
	linker     *attribution.Linker
	dispatcher *attribution.Dispatcher
	logger     *log.Entry
	metrics    *metrics.OrderMetrics
	tracer     trace.Tracer
	now        func() time.Time
	newUID     func() string
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithDispatcher включает уведомление системы атрибуции после коммита.
func WithDispatcher(d *attribution.Dispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock подменяет часы (тесты).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator собирает оркестратор из ledger, lifecycle и linker.
func NewOrchestrator(
	tx domain.TxManager,
	ledger *inventory.Ledger,
	items *orderitem.Lifecycle,
	linker *attribution.Linker,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		tx:     tx,
		ledger: ledger,
		items:  items,
		linker: linker,
		logger: log.WithField("component", "checkout"),
		tracer: otel.Tracer("github.com/vladislavdragonenkov/eshop/internal/service/checkout"),
		now:    func() time.Time { return time.Now().UTC() },
		newUID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateOrder оформляет заказ. При любой ошибке состояние не меняется.
func (o *Orchestrator) CreateOrder(ctx context.Context, req Request) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "checkout.CreateOrder")
	defer span.End()

	done := o.metrics.TxStarted(operationCreateOrder)
	defer done()

	customer, lines, err := normalize(req)
	if err != nil {
		return Result{}, o.fail(span, err)
	}
	span.SetAttributes(attribute.Int("order.lines", len(lines)))

	var (
		result  Result
		pending *metrics.Pending
	)
	err = o.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		ctx, pending = metrics.WithPending(ctx)
		ids := make([]int64, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.ProductID)
		}
		locked, err := o.ledger.Lock(ctx, tx.Products(), ids...)
		if err != nil {
			return err
		}
		for _, line := range lines {
			product, ok := locked[line.ProductID]
			if !ok || !product.Active {
				return domain.ProductNotFound(line.ProductID)
			}
			if line.Quantity > product.Stock {
				return domain.NewStockError(product.ID, line.Quantity, product.Stock)
			}
		}

		saved, err := tx.Customers().UpsertByPhone(ctx, customer)
		if err != nil {
			return fmt.Errorf("upsert customer: %w", err)
		}

		order := &domain.Order{
			UID:             o.newUID(),
			CustomerID:      saved.ID,
			Status:          domain.OrderStatusNew,
			ShippingAddress: shippingAddress(req.ShippingAddress, saved.Address),
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		for _, line := range lines {
			if _, err := o.items.Create(ctx, tx, order, orderitem.CreateParams{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
			}); err != nil {
				return err
			}
		}

		campaign, err := o.linker.Resolve(ctx, tx.Campaigns(), req.CampaignID)
		if err != nil {
			return err
		}
		conversion, err := o.linker.Link(ctx, tx, order, campaign)
		if err != nil {
			return err
		}

		now := o.now()
		msg, err := domain.NewOrderEvent(domain.EventOrderCreated, *order, nil, now).OutboxMessage()
		if err != nil {
			return err
		}
		if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue order event: %w", err)
		}
		if err := tx.Timeline().Append(ctx, domain.NewTimelineEvent(order, domain.TimelineOrderCreated, "", now)); err != nil {
			return fmt.Errorf("append timeline: %w", err)
		}

		result = Result{Order: *order, Conversion: conversion}
		return nil
	})
	if err != nil {
		return Result{}, o.fail(span, err)
	}

	pending.Commit()
	o.metrics.RecordOrderCreated()
	o.metrics.RecordOutboxEvent()
	span.SetAttributes(
		attribute.String("order.uid", result.Order.UID),
		attribute.Int64("order.total_minor", result.Order.TotalMinor()),
	)
	span.SetStatus(codes.Ok, "order created")

	o.logger.WithFields(log.Fields{
		"order_uid":   result.Order.UID,
		"customer_id": result.Order.CustomerID,
		"total":       domain.FormatMinor(result.Order.TotalMinor()),
		"attribution": result.Order.AttributionSource,
	}).Info("order created")

	// Уведомление уходит уже после коммита и на результат не влияет.
	o.dispatcher.NotifyPurchase(result.Order.UID, result.Conversion.ValueMinor)
	return result, nil
}

func (o *Orchestrator) fail(span trace.Span, err error) error {
	reason := metrics.ReasonFor(err)
	o.metrics.RecordRejection(operationCreateOrder, reason)
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)

	entry := o.logger.WithError(err).WithField("reason", reason)
	if reason == metrics.ReasonInternal {
		entry.Error("order creation failed")
	} else {
		entry.Warn("order rejected")
	}
	return err
}

// normalize проверяет запрос и объединяет строки с одинаковым товаром.
func normalize(req Request) (domain.Customer, []LineInput, error) {
	customer := domain.Customer{
		FullName: strings.TrimSpace(req.Customer.FullName),
		Phone:    strings.TrimSpace(req.Customer.Phone),
		Email:    strings.TrimSpace(req.Customer.Email),
		Address:  strings.TrimSpace(req.Customer.Address),
	}
	if err := customer.Validate(); err != nil {
		return domain.Customer{}, nil, err
	}
	if len(req.Items) == 0 {
		return domain.Customer{}, nil, domain.ErrItemsRequired
	}

	merged := make(map[int64]int, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return domain.Customer{}, nil, fmt.Errorf("%w: product %d quantity %d",
				domain.ErrInvalidQuantity, line.ProductID, line.Quantity)
		}
		sum, err := domain.AddQuantity(merged[line.ProductID], line.Quantity)
		if err != nil {
			return domain.Customer{}, nil, fmt.Errorf("product %d: %w", line.ProductID, err)
		}
		merged[line.ProductID] = sum
	}

	lines := make([]LineInput, 0, len(merged))
	for productID, qty := range merged {
		lines = append(lines, LineInput{ProductID: productID, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return customer, lines, nil
}

func shippingAddress(requested, fallback string) string {
	if v := strings.TrimSpace(requested); v != "" {
		return v
	}
	return fallback
}
