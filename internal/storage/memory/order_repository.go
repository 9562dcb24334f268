package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

type orderRepo struct{ tx *memTx }

func (r orderRepo) Create(_ context.Context, order *domain.Order) error {
	if _, exists := r.tx.st.orderByUID[order.UID]; exists {
		return domain.ErrConcurrencyConflict
	}
	r.tx.st.orderSeq++
	now := r.tx.now()
	order.ID = r.tx.st.orderSeq
	order.CreatedAt = now
	order.UpdatedAt = now

	// Позиции хранятся отдельно, как и в Postgres.
	stored := *order
	stored.Items = nil
	r.tx.st.orders[order.ID] = stored
	r.tx.st.orderByUID[order.UID] = order.ID
	return nil
}

func (r orderRepo) GetByUID(_ context.Context, uid string) (domain.Order, error) {
	id, ok := r.tx.st.orderByUID[uid]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.tx.st.orders[id], nil
}

func (r orderRepo) LockByUID(ctx context.Context, uid string) (domain.Order, error) {
	return r.GetByUID(ctx, uid)
}

func (r orderRepo) UpdateStatus(_ context.Context, id int64, status domain.OrderStatus) error {
	return r.mutate(id, func(o *domain.Order) { o.Status = status })
}

func (r orderRepo) SetPaymentReference(_ context.Context, id int64, reference string) error {
	return r.mutate(id, func(o *domain.Order) { o.PaymentReference = reference })
}

func (r orderRepo) SetAttribution(_ context.Context, id int64, source string, conversionValueMinor int64) error {
	return r.mutate(id, func(o *domain.Order) {
		o.AttributionSource = source
		o.ConversionValueMinor = &conversionValueMinor
	})
}

func (r orderRepo) mutate(id int64, fn func(o *domain.Order)) error {
	order, ok := r.tx.st.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	fn(&order)
	order.UpdatedAt = r.tx.now()
	r.tx.st.orders[id] = order
	return nil
}

type itemRepo struct{ tx *memTx }

func (r itemRepo) Create(_ context.Context, item *domain.OrderItem) error {
	if _, ok := r.tx.st.orders[item.OrderID]; !ok {
		return domain.ErrOrderNotFound
	}
	r.tx.st.itemSeq++
	now := r.tx.now()
	item.ID = r.tx.st.itemSeq
	item.CreatedAt = now
	item.UpdatedAt = now
	r.tx.st.items[item.ID] = *item
	return nil
}

func (r itemRepo) Get(_ context.Context, id int64) (domain.OrderItem, error) {
	item, ok := r.tx.st.items[id]
	if !ok {
		return domain.OrderItem{}, domain.ErrOrderItemNotFound
	}
	return item, nil
}

func (r itemRepo) Update(_ context.Context, item domain.OrderItem) error {
	current, ok := r.tx.st.items[item.ID]
	if !ok {
		return domain.ErrOrderItemNotFound
	}
	current.ProductID = item.ProductID
	current.Quantity = item.Quantity
	current.ShippedQuantity = item.ShippedQuantity
	current.UpdatedAt = r.tx.now()
	r.tx.st.items[item.ID] = current
	return nil
}

func (r itemRepo) Delete(_ context.Context, id int64) error {
	if _, ok := r.tx.st.items[id]; !ok {
		return domain.ErrOrderItemNotFound
	}
	delete(r.tx.st.items, id)
	return nil
}

func (r itemRepo) ListByOrder(_ context.Context, orderID int64) ([]domain.OrderItem, error) {
	result := make([]domain.OrderItem, 0)
	for _, item := range r.tx.st.items {
		if item.OrderID == orderID {
			result = append(result, item)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var (
	_ domain.OrderRepository     = orderRepo{}
	_ domain.OrderItemRepository = itemRepo{}
)
