package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

const productColumns = `id, sku, name, price_minor, stock, active, created_at, updated_at`

type productRepository struct {
	tx *sql.Tx
}

func scanProduct(row interface{ Scan(dest ...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.PriceMinor, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r productRepository) Create(ctx context.Context, product *domain.Product) error {
	err := r.tx.QueryRowContext(ctx, `
		INSERT INTO products (sku, name, price_minor, stock, active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at, updated_at
	`, product.SKU, product.Name, product.PriceMinor, product.Stock, product.Active,
	).Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSKUConflict
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	p, err := scanProduct(r.tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ProductNotFound(id)
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r productRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// Lock берёт FOR UPDATE в порядке возрастания ID; ids уже отсортированы вызывающим.
func (r productRepository) Lock(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.tx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan locked product: %w", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locked products: %w", err)
	}
	return result, nil
}

// AdjustStock проверяет и меняет остаток одним UPDATE.
func (r productRepository) AdjustStock(ctx context.Context, id int64, delta int) (int, error) {
	var stock int
	err := r.tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock + $2 >= 0
		RETURNING stock
	`, id, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}

	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return 0, getErr
	}
	return current.Stock, domain.NewStockError(id, -delta, current.Stock)
}

func (r productRepository) Update(ctx context.Context, product domain.Product) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE products
		SET name = $2,
		    price_minor = $3,
		    active = $4,
		    updated_at = NOW()
		WHERE id = $1
	`, product.ID, product.Name, product.PriceMinor, product.Active)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return expectOne(res, domain.ProductNotFound(product.ID))
}

// expectOne возвращает notFound, если запрос не затронул ни одной строки.
func expectOne(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.ProductRepository = productRepository{}
