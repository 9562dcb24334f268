package memory

import (
	"context"
	"strings"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

type customerRepo struct{ tx *memTx }

func (r customerRepo) UpsertByPhone(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	phone := strings.TrimSpace(customer.Phone)
	now := r.tx.now()

	if id, ok := r.tx.st.customerByPhone[phone]; ok {
		merged := r.tx.st.customers[id].Merge(customer)
		merged.UpdatedAt = now
		r.tx.st.customers[id] = merged
		return merged, nil
	}

	r.tx.st.customerSeq++
	created := domain.Customer{ID: r.tx.st.customerSeq, Phone: phone, CreatedAt: now, UpdatedAt: now}.Merge(customer)
	r.tx.st.customers[created.ID] = created
	r.tx.st.customerByPhone[phone] = created.ID
	return created, nil
}

func (r customerRepo) Get(_ context.Context, id int64) (domain.Customer, error) {
	c, ok := r.tx.st.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return c, nil
}

var _ domain.CustomerRepository = customerRepo{}
