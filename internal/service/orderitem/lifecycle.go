// Package orderitem управляет позициями заказа и связанными движениями остатков.
// Все методы работают внутри транзакции вызывающего: изменение позиции и
// корректировка склада фиксируются вместе.
package orderitem

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/metrics"
	"github.com/vladislavdragonenkov/eshop/internal/service/inventory"
)

// CreateParams описывает новую позицию. PriceMinor=nil означает текущую цену товара.
type CreateParams struct {
	ProductID  int64
	Quantity   int
	PriceMinor *int64
}

// UpdateParams — новое количество и/или новый товар позиции.
type UpdateParams struct {
	Quantity  *int
	ProductID *int64
}

// Lifecycle реализует create/update/delete позиций поверх Ledger.
type Lifecycle struct {
	ledger  *inventory.Ledger
	logger  *log.Entry
	metrics *metrics.OrderMetrics
}

// NewLifecycle создаёт сервис позиций.
func NewLifecycle(ledger *inventory.Ledger, logger *log.Entry, m *metrics.OrderMetrics) *Lifecycle {
	if logger == nil {
		logger = log.WithField("component", "order-items")
	}
	return &Lifecycle{ledger: ledger, logger: logger, metrics: m}
}

// Create добавляет позицию в заказ и списывает товар.
func (l *Lifecycle) Create(ctx context.Context, tx domain.Tx, order *domain.Order, params CreateParams) (domain.OrderItem, error) {
	if !order.ItemsMutable() {
		return domain.OrderItem{}, fmt.Errorf("%w: status %s", domain.ErrOrderImmutable, order.Status)
	}
	if params.Quantity <= 0 {
		return domain.OrderItem{}, fmt.Errorf("%w: product %d quantity %d", domain.ErrInvalidQuantity, params.ProductID, params.Quantity)
	}

	locked, err := l.ledger.Lock(ctx, tx.Products(), params.ProductID)
	if err != nil {
		return domain.OrderItem{}, err
	}
	product, ok := locked[params.ProductID]
	if !ok || !product.Active {
		return domain.OrderItem{}, domain.ProductNotFound(params.ProductID)
	}
	if params.Quantity > product.Stock {
		return domain.OrderItem{}, domain.NewStockError(product.ID, params.Quantity, product.Stock)
	}

	price := product.PriceMinor
	if params.PriceMinor != nil {
		if *params.PriceMinor < 0 {
			return domain.OrderItem{}, fmt.Errorf("%w: %d", domain.ErrPriceInvalid, *params.PriceMinor)
		}
		price = *params.PriceMinor
	}

	if _, err := l.ledger.Deduct(ctx, tx.Products(), product.ID, params.Quantity); err != nil {
		return domain.OrderItem{}, err
	}

	item := domain.OrderItem{
		OrderID:    order.ID,
		ProductID:  product.ID,
		Quantity:   params.Quantity,
		PriceMinor: price,
	}
	if err := tx.Items().Create(ctx, &item); err != nil {
		return domain.OrderItem{}, fmt.Errorf("create order item: %w", err)
	}
	order.Items = append(order.Items, item)

	metrics.Defer(ctx, func() { l.metrics.RecordItemMutation("create") })
	return item, nil
}

// Update меняет количество и/или товар позиции. Цена позиции не пересчитывается.
func (l *Lifecycle) Update(ctx context.Context, tx domain.Tx, order *domain.Order, itemID int64, params UpdateParams) (domain.OrderItem, error) {
	if !order.ItemsMutable() {
		return domain.OrderItem{}, fmt.Errorf("%w: status %s", domain.ErrOrderImmutable, order.Status)
	}
	item, ok := order.Item(itemID)
	if !ok {
		return domain.OrderItem{}, fmt.Errorf("%w: item %d in order %s", domain.ErrOrderItemNotFound, itemID, order.UID)
	}

	newQty := item.Quantity
	if params.Quantity != nil {
		newQty = *params.Quantity
	}
	newProductID := item.ProductID
	if params.ProductID != nil {
		newProductID = *params.ProductID
	}

	if newQty <= 0 {
		return domain.OrderItem{}, fmt.Errorf("%w: quantity %d", domain.ErrInvalidQuantity, newQty)
	}
	if newQty < item.ShippedQuantity {
		return domain.OrderItem{}, fmt.Errorf("%w: quantity %d is below shipped quantity %d",
			domain.ErrInvalidQuantity, newQty, item.ShippedQuantity)
	}

	if newProductID == item.ProductID {
		if err := l.adjustSameProduct(ctx, tx, item, newQty); err != nil {
			return domain.OrderItem{}, err
		}
	} else {
		if err := l.swapProduct(ctx, tx, item, newProductID, newQty); err != nil {
			return domain.OrderItem{}, err
		}
	}

	item.ProductID = newProductID
	item.Quantity = newQty
	if err := tx.Items().Update(ctx, item); err != nil {
		return domain.OrderItem{}, fmt.Errorf("update order item: %w", err)
	}
	replaceItem(order, item)

	metrics.Defer(ctx, func() { l.metrics.RecordItemMutation("update") })
	return item, nil
}

func (l *Lifecycle) adjustSameProduct(ctx context.Context, tx domain.Tx, item domain.OrderItem, newQty int) error {
	delta := newQty - item.Quantity
	switch {
	case delta > 0:
		_, err := l.ledger.Deduct(ctx, tx.Products(), item.ProductID, delta)
		return err
	case delta < 0:
		_, err := l.ledger.Restock(ctx, tx.Products(), item.ProductID, -delta)
		return err
	default:
		return nil
	}
}

// swapProduct возвращает старый товар и списывает новый; блокировки берутся по возрастанию ID.
func (l *Lifecycle) swapProduct(ctx context.Context, tx domain.Tx, item domain.OrderItem, newProductID int64, newQty int) error {
	if item.ShippedQuantity > 0 {
		return fmt.Errorf("%w: item %d has %d shipped units, product cannot change",
			domain.ErrInvalidQuantity, item.ID, item.ShippedQuantity)
	}

	locked, err := l.ledger.Lock(ctx, tx.Products(), item.ProductID, newProductID)
	if err != nil {
		return err
	}
	target, ok := locked[newProductID]
	if !ok || !target.Active {
		return domain.ProductNotFound(newProductID)
	}

	if _, err := l.ledger.Restock(ctx, tx.Products(), item.ProductID, item.Quantity); err != nil {
		return err
	}
	if _, err := l.ledger.Deduct(ctx, tx.Products(), newProductID, newQty); err != nil {
		return err
	}

	l.logger.WithFields(log.Fields{
		"item_id":     item.ID,
		"old_product": item.ProductID,
		"new_product": newProductID,
	}).Info("order item product changed")
	return nil
}

// Delete удаляет позицию и возвращает её количество на склад.
func (l *Lifecycle) Delete(ctx context.Context, tx domain.Tx, order *domain.Order, itemID int64) (domain.OrderItem, error) {
	if !order.ItemsMutable() {
		return domain.OrderItem{}, fmt.Errorf("%w: status %s", domain.ErrOrderImmutable, order.Status)
	}
	item, ok := order.Item(itemID)
	if !ok {
		return domain.OrderItem{}, fmt.Errorf("%w: item %d in order %s", domain.ErrOrderItemNotFound, itemID, order.UID)
	}
	if item.ShippedQuantity > 0 {
		return domain.OrderItem{}, fmt.Errorf("%w: item %d has %d shipped units",
			domain.ErrInvalidQuantity, item.ID, item.ShippedQuantity)
	}

	if _, err := l.ledger.Restock(ctx, tx.Products(), item.ProductID, item.Quantity); err != nil {
		return domain.OrderItem{}, err
	}
	if err := tx.Items().Delete(ctx, item.ID); err != nil {
		return domain.OrderItem{}, fmt.Errorf("delete order item: %w", err)
	}
	removeItem(order, item.ID)

	metrics.Defer(ctx, func() { l.metrics.RecordItemMutation("delete") })
	return item, nil
}

// Ship увеличивает отгруженное количество позиции; остаток не меняется.
// Отгружать можно только оплаченный заказ.
func (l *Lifecycle) Ship(ctx context.Context, tx domain.Tx, order *domain.Order, itemID int64, qty int) (domain.OrderItem, error) {
	if !order.ItemsMutable() {
		return domain.OrderItem{}, fmt.Errorf("%w: status %s", domain.ErrOrderImmutable, order.Status)
	}
	if order.Status != domain.OrderStatusPaid {
		return domain.OrderItem{}, fmt.Errorf("%w: cannot ship items of %s order", domain.ErrInvalidTransition, order.Status)
	}
	item, ok := order.Item(itemID)
	if !ok {
		return domain.OrderItem{}, fmt.Errorf("%w: item %d in order %s", domain.ErrOrderItemNotFound, itemID, order.UID)
	}
	if qty <= 0 || item.ShippedQuantity+qty > item.Quantity {
		return domain.OrderItem{}, fmt.Errorf("%w: ship %d of %d (already shipped %d)",
			domain.ErrInvalidQuantity, qty, item.Quantity, item.ShippedQuantity)
	}

	item.ShippedQuantity += qty
	if err := tx.Items().Update(ctx, item); err != nil {
		return domain.OrderItem{}, fmt.Errorf("update order item: %w", err)
	}
	replaceItem(order, item)

	metrics.Defer(ctx, func() { l.metrics.RecordItemMutation("ship") })
	return item, nil
}

// RestockAll возвращает на склад все позиции заказа (отмена). Блокирует товары заранее.
func (l *Lifecycle) RestockAll(ctx context.Context, tx domain.Tx, order *domain.Order) error {
	if _, err := l.ledger.Lock(ctx, tx.Products(), order.ProductIDs()...); err != nil {
		return err
	}
	for _, item := range order.Items {
		if _, err := l.ledger.Restock(ctx, tx.Products(), item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("restock item %d: %w", item.ID, err)
		}
	}
	return nil
}

func replaceItem(order *domain.Order, item domain.OrderItem) {
	for i := range order.Items {
		if order.Items[i].ID == item.ID {
			order.Items[i] = item
			return
		}
	}
}

func removeItem(order *domain.Order, id int64) {
	items := order.Items[:0]
	for _, it := range order.Items {
		if it.ID != id {
			items = append(items, it)
		}
	}
	order.Items = items
}
