package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

type productRepo struct{ tx *memTx }

func (r productRepo) Create(_ context.Context, product *domain.Product) error {
	for _, p := range r.tx.st.products {
		if p.SKU == product.SKU {
			return domain.ErrSKUConflict
		}
	}
	r.tx.st.productSeq++
	now := r.tx.now()
	product.ID = r.tx.st.productSeq
	product.CreatedAt = now
	product.UpdatedAt = now
	r.tx.st.products[product.ID] = *product
	return nil
}

func (r productRepo) Get(_ context.Context, id int64) (domain.Product, error) {
	p, ok := r.tx.st.products[id]
	if !ok {
		return domain.Product{}, domain.ProductNotFound(id)
	}
	return p, nil
}

func (r productRepo) List(context.Context) ([]domain.Product, error) {
	result := make([]domain.Product, 0, len(r.tx.st.products))
	for _, p := range r.tx.st.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Lock в памяти ничего не блокирует: транзакции и так последовательны.
func (r productRepo) Lock(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.tx.st.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (r productRepo) AdjustStock(_ context.Context, id int64, delta int) (int, error) {
	p, ok := r.tx.st.products[id]
	if !ok {
		return 0, domain.ProductNotFound(id)
	}
	if p.Stock+delta < 0 {
		return p.Stock, domain.NewStockError(id, -delta, p.Stock)
	}
	p.Stock += delta
	p.UpdatedAt = r.tx.now()
	r.tx.st.products[id] = p
	return p.Stock, nil
}

func (r productRepo) Update(_ context.Context, product domain.Product) error {
	p, ok := r.tx.st.products[product.ID]
	if !ok {
		return domain.ProductNotFound(product.ID)
	}
	p.Name = product.Name
	p.PriceMinor = product.PriceMinor
	p.Active = product.Active
	p.UpdatedAt = r.tx.now()
	r.tx.st.products[p.ID] = p
	return nil
}

var _ domain.ProductRepository = productRepo{}
