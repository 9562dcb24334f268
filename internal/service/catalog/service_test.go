package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/eshop/internal/service/inventory"
	"github.com/vladislavdragonenkov/eshop/internal/storage/memory"
)

func newService() *catalog.Service {
	return catalog.NewService(memory.NewStore(), inventory.NewLedger(nil, nil), nil)
}

func TestCatalog_CreateAndList(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	cup, err := svc.CreateProduct(ctx, catalog.CreateParams{SKU: " CUP ", Name: "Cup", PriceMinor: 1000, Stock: 5, Active: true})
	require.NoError(t, err)
	require.Equal(t, "CUP", cup.SKU)
	require.True(t, cup.Available())

	_, err = svc.CreateProduct(ctx, catalog.CreateParams{SKU: "PLATE", Name: "Plate", PriceMinor: 550})
	require.NoError(t, err)

	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, cup.ID, products[0].ID)
	require.False(t, products[1].Available())
}

func TestCatalog_CreateValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	_, err := svc.CreateProduct(ctx, catalog.CreateParams{SKU: "", PriceMinor: -1, Stock: -1})
	require.ErrorIs(t, err, domain.ErrSKURequired)
	require.ErrorIs(t, err, domain.ErrPriceInvalid)
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = svc.CreateProduct(ctx, catalog.CreateParams{SKU: "CUP", PriceMinor: 100})
	require.NoError(t, err)
	_, err = svc.CreateProduct(ctx, catalog.CreateParams{SKU: "CUP", PriceMinor: 200})
	require.ErrorIs(t, err, domain.ErrSKUConflict)
}

func TestCatalog_UpdateProduct(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	p, err := svc.CreateProduct(ctx, catalog.CreateParams{SKU: "CUP", Name: "Cup", PriceMinor: 1000, Stock: 3, Active: true})
	require.NoError(t, err)

	name := "Big cup"
	price := int64(1200)
	inactive := false
	updated, err := svc.UpdateProduct(ctx, p.ID, catalog.UpdateParams{Name: &name, PriceMinor: &price, Active: &inactive})
	require.NoError(t, err)
	require.Equal(t, "Big cup", updated.Name)
	require.Equal(t, int64(1200), updated.PriceMinor)
	require.False(t, updated.Active)
	require.Equal(t, 3, updated.Stock)

	negative := int64(-5)
	_, err = svc.UpdateProduct(ctx, p.ID, catalog.UpdateParams{PriceMinor: &negative})
	require.ErrorIs(t, err, domain.ErrPriceInvalid)

	_, err = svc.UpdateProduct(ctx, 999, catalog.UpdateParams{Name: &name})
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestCatalog_AdjustStock(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	p, err := svc.CreateProduct(ctx, catalog.CreateParams{SKU: "CUP", PriceMinor: 1000, Stock: 3, Active: true})
	require.NoError(t, err)

	p, err = svc.AdjustStock(ctx, p.ID, 7)
	require.NoError(t, err)
	require.Equal(t, 10, p.Stock)

	p, err = svc.AdjustStock(ctx, p.ID, -4)
	require.NoError(t, err)
	require.Equal(t, 6, p.Stock)

	_, err = svc.AdjustStock(ctx, p.ID, -7)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = svc.AdjustStock(ctx, p.ID, 0)
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)

	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, products[0].Stock)
}
