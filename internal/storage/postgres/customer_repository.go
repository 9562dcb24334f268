package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

type customerRepository struct {
	tx *sql.Tx
}

// UpsertByPhone: пустые значения не затирают сохранённые.
func (r customerRepository) UpsertByPhone(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	var c domain.Customer
	err := r.tx.QueryRowContext(ctx, `
		INSERT INTO customers (full_name, phone, email, address)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (phone) DO UPDATE
		SET full_name  = COALESCE(NULLIF(EXCLUDED.full_name, ''), customers.full_name),
		    email      = COALESCE(NULLIF(EXCLUDED.email, ''), customers.email),
		    address    = COALESCE(NULLIF(EXCLUDED.address, ''), customers.address),
		    updated_at = NOW()
		RETURNING id, full_name, phone, email, address, created_at, updated_at
	`,
		strings.TrimSpace(customer.FullName),
		strings.TrimSpace(customer.Phone),
		strings.TrimSpace(customer.Email),
		strings.TrimSpace(customer.Address),
	).Scan(&c.ID, &c.FullName, &c.Phone, &c.Email, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("upsert customer: %w", err)
	}
	return c, nil
}

func (r customerRepository) Get(ctx context.Context, id int64) (domain.Customer, error) {
	var c domain.Customer
	err := r.tx.QueryRowContext(ctx, `
		SELECT id, full_name, phone, email, address, created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.FullName, &c.Phone, &c.Email, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	return c, nil
}

var _ domain.CustomerRepository = customerRepository{}
