// Package inventory ведёт складской учёт: списание и возврат остатков
// под блокировкой строки товара.
package inventory

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/metrics"
)

// Ledger выполняет атомарные операции над остатками внутри транзакции вызывающего.
type Ledger struct {
	logger  *log.Entry
	metrics *metrics.OrderMetrics
}

// NewLedger создаёт журнал остатков; logger и m могут быть nil.
func NewLedger(logger *log.Entry, m *metrics.OrderMetrics) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "inventory-ledger")
	}
	return &Ledger{logger: logger, metrics: m}
}

// LockOrder возвращает уникальные ID по возрастанию: единый порядок захвата блокировок.
func LockOrder(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	result := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Lock блокирует строки товаров в порядке возрастания ID.
func (l *Ledger) Lock(ctx context.Context, products domain.ProductRepository, ids ...int64) (map[int64]domain.Product, error) {
	locked, err := products.Lock(ctx, LockOrder(ids))
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	return locked, nil
}

// Deduct списывает qty единиц. Проверка остатка и запись выполняются под одной блокировкой.
func (l *Ledger) Deduct(ctx context.Context, products domain.ProductRepository, productID int64, qty int) (int, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("%w: deduct %d of product %d", domain.ErrInvalidQuantity, qty, productID)
	}

	locked, err := l.Lock(ctx, products, productID)
	if err != nil {
		return 0, err
	}
	product, ok := locked[productID]
	if !ok {
		return 0, domain.ProductNotFound(productID)
	}
	if product.Stock < qty {
		return product.Stock, domain.NewStockError(productID, qty, product.Stock)
	}

	stock, err := products.AdjustStock(ctx, productID, -qty)
	if err != nil {
		return stock, fmt.Errorf("deduct product %d: %w", productID, err)
	}

	metrics.Defer(ctx, func() { l.metrics.RecordDeducted(qty) })
	l.logger.WithFields(log.Fields{
		"product_id": productID,
		"qty":        qty,
		"stock":      stock,
	}).Debug("stock deducted")
	return stock, nil
}

// Restock возвращает qty ранее списанных единиц. По остатку не отказывает.
func (l *Ledger) Restock(ctx context.Context, products domain.ProductRepository, productID int64, qty int) (int, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("%w: restock %d of product %d", domain.ErrInvalidQuantity, qty, productID)
	}

	locked, err := l.Lock(ctx, products, productID)
	if err != nil {
		return 0, err
	}
	if _, ok := locked[productID]; !ok {
		return 0, domain.ProductNotFound(productID)
	}

	stock, err := products.AdjustStock(ctx, productID, qty)
	if err != nil {
		return stock, fmt.Errorf("restock product %d: %w", productID, err)
	}

	metrics.Defer(ctx, func() { l.metrics.RecordRestocked(qty) })
	l.logger.WithFields(log.Fields{
		"product_id": productID,
		"qty":        qty,
		"stock":      stock,
	}).Debug("stock restocked")
	return stock, nil
}

// Adjust применяет административную корректировку остатка (приход или списание).
func (l *Ledger) Adjust(ctx context.Context, products domain.ProductRepository, productID int64, delta int) (int, error) {
	switch {
	case delta > 0:
		return l.Restock(ctx, products, productID, delta)
	case delta < 0:
		return l.Deduct(ctx, products, productID, -delta)
	default:
		return 0, fmt.Errorf("%w: zero stock adjustment", domain.ErrInvalidQuantity)
	}
}
