package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

const orderColumns = `id, uid, customer_id, status, shipping_address, payment_reference,
	attribution_source, conversion_value_minor, created_at, updated_at`

type orderRepository struct {
	tx *sql.Tx
}

func scanOrder(row interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var (
		order      domain.Order
		status     string
		conversion sql.NullInt64
	)
	if err := row.Scan(
		&order.ID, &order.UID, &order.CustomerID, &status, &order.ShippingAddress,
		&order.PaymentReference, &order.AttributionSource, &conversion,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	if conversion.Valid {
		value := conversion.Int64
		order.ConversionValueMinor = &value
	}
	return order, nil
}

func (r orderRepository) Create(ctx context.Context, order *domain.Order) error {
	err := r.tx.QueryRowContext(ctx, `
		INSERT INTO orders (uid, customer_id, status, shipping_address)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at, updated_at
	`, order.UID, order.CustomerID, string(order.Status), order.ShippingAddress,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order uid %s already exists", domain.ErrConcurrencyConflict, order.UID)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r orderRepository) GetByUID(ctx context.Context, uid string) (domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE uid = $1`, uid)
}

func (r orderRepository) LockByUID(ctx context.Context, uid string) (domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE uid = $1 FOR UPDATE`, uid)
}

func (r orderRepository) get(ctx context.Context, query, uid string) (domain.Order, error) {
	order, err := scanOrder(r.tx.QueryRowContext(ctx, query, uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r orderRepository) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	return r.exec(ctx, `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
}

func (r orderRepository) SetPaymentReference(ctx context.Context, id int64, reference string) error {
	return r.exec(ctx, `UPDATE orders SET payment_reference = $2, updated_at = NOW() WHERE id = $1`, id, reference)
}

func (r orderRepository) SetAttribution(ctx context.Context, id int64, source string, conversionValueMinor int64) error {
	return r.exec(ctx, `
		UPDATE orders
		SET attribution_source = $2,
		    conversion_value_minor = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, id, source, conversionValueMinor)
}

func (r orderRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return expectOne(res, domain.ErrOrderNotFound)
}

type orderItemRepository struct {
	tx *sql.Tx
}

const itemColumns = `id, order_id, product_id, quantity, shipped_quantity, price_minor, created_at, updated_at`

func scanItem(row interface{ Scan(dest ...any) error }) (domain.OrderItem, error) {
	var item domain.OrderItem
	err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity,
		&item.ShippedQuantity, &item.PriceMinor, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (r orderItemRepository) Create(ctx context.Context, item *domain.OrderItem) error {
	err := r.tx.QueryRowContext(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, shipped_quantity, price_minor)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at, updated_at
	`, item.OrderID, item.ProductID, item.Quantity, item.ShippedQuantity, item.PriceMinor,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func (r orderItemRepository) Get(ctx context.Context, id int64) (domain.OrderItem, error) {
	item, err := scanItem(r.tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM order_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderItem{}, domain.ErrOrderItemNotFound
		}
		return domain.OrderItem{}, fmt.Errorf("select order item: %w", err)
	}
	return item, nil
}

// Update не трогает price_minor: цена позиции фиксируется при создании.
func (r orderItemRepository) Update(ctx context.Context, item domain.OrderItem) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE order_items
		SET product_id = $2,
		    quantity = $3,
		    shipped_quantity = $4,
		    updated_at = NOW()
		WHERE id = $1
	`, item.ID, item.ProductID, item.Quantity, item.ShippedQuantity)
	if err != nil {
		return fmt.Errorf("update order item: %w", err)
	}
	return expectOne(res, domain.ErrOrderItemNotFound)
}

func (r orderItemRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order item: %w", err)
	}
	return expectOne(res, domain.ErrOrderItemNotFound)
}

func (r orderItemRepository) ListByOrder(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

var (
	_ domain.OrderRepository     = orderRepository{}
	_ domain.OrderItemRepository = orderItemRepository{}
)
