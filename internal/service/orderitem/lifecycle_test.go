package orderitem_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/service/inventory"
	"github.com/vladislavdragonenkov/eshop/internal/service/orderitem"
	"github.com/vladislavdragonenkov/eshop/internal/storage/memory"
)

type LifecycleSuite struct {
	suite.Suite
	ctx       context.Context
	store     *memory.Store
	lifecycle *orderitem.Lifecycle
	p1, p2    int64
	orderUID  string
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.lifecycle = orderitem.NewLifecycle(inventory.NewLedger(nil, nil), nil, nil)
	s.orderUID = uuid.NewString()

	s.Require().NoError(s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.Tx) error {
		p1 := domain.Product{SKU: "P1", Name: "Cup", PriceMinor: 1000, Stock: 10, Active: true}
		p2 := domain.Product{SKU: "P2", Name: "Plate", PriceMinor: 550, Stock: 3, Active: true}
		if err := tx.Products().Create(ctx, &p1); err != nil {
			return err
		}
		if err := tx.Products().Create(ctx, &p2); err != nil {
			return err
		}
		s.p1, s.p2 = p1.ID, p2.ID
		return tx.Orders().Create(ctx, &domain.Order{UID: s.orderUID, Status: domain.OrderStatusNew})
	}))
}

// inTx выполняет fn над заказом с позициями в одной транзакции.
func (s *LifecycleSuite) inTx(fn func(ctx context.Context, tx domain.Tx, order *domain.Order) error) error {
	return s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().LockByUID(ctx, s.orderUID)
		if err != nil {
			return err
		}
		order.Items, err = tx.Items().ListByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		return fn(ctx, tx, &order)
	})
}

func (s *LifecycleSuite) stock(id int64) int {
	var stock int
	s.Require().NoError(s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Products().Get(ctx, id)
		stock = p.Stock
		return err
	}))
	return stock
}

func (s *LifecycleSuite) createItem(productID int64, qty int) domain.OrderItem {
	var item domain.OrderItem
	s.Require().NoError(s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		var err error
		item, err = s.lifecycle.Create(ctx, tx, order, orderitem.CreateParams{ProductID: productID, Quantity: qty})
		return err
	}))
	return item
}

func (s *LifecycleSuite) setStatus(status domain.OrderStatus) {
	s.Require().NoError(s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().GetByUID(ctx, s.orderUID)
		if err != nil {
			return err
		}
		return tx.Orders().UpdateStatus(ctx, order.ID, status)
	}))
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func (s *LifecycleSuite) TestCreateDeductsAndSnapshotsPrice() {
	item := s.createItem(s.p1, 4)

	s.Equal(6, s.stock(s.p1))
	s.Equal(int64(1000), item.PriceMinor)

	// Изменение цены товара не затрагивает позицию.
	s.Require().NoError(s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Products().Get(ctx, s.p1)
		if err != nil {
			return err
		}
		p.PriceMinor = 9999
		return tx.Products().Update(ctx, p)
	}))
	s.Require().NoError(s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		got, ok := order.Item(item.ID)
		s.Require().True(ok)
		s.Equal(int64(1000), got.PriceMinor)
		return nil
	}))
}

func (s *LifecycleSuite) TestCreateWithExplicitPrice() {
	var item domain.OrderItem
	s.Require().NoError(s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		var err error
		item, err = s.lifecycle.Create(ctx, tx, order, orderitem.CreateParams{
			ProductID: s.p1, Quantity: 1, PriceMinor: int64Ptr(700),
		})
		return err
	}))
	s.Equal(int64(700), item.PriceMinor)
}

func (s *LifecycleSuite) TestCreateInsufficientStockLeavesStock() {
	err := s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		_, err := s.lifecycle.Create(ctx, tx, order, orderitem.CreateParams{ProductID: s.p2, Quantity: 4})
		return err
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)
	s.Equal(3, s.stock(s.p2))
}

func (s *LifecycleSuite) TestCreateRejectsInactiveProduct() {
	s.Require().NoError(s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.Tx) error {
		p, _ := tx.Products().Get(ctx, s.p1)
		p.Active = false
		return tx.Products().Update(ctx, p)
	}))

	err := s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		_, err := s.lifecycle.Create(ctx, tx, order, orderitem.CreateParams{ProductID: s.p1, Quantity: 1})
		return err
	})
	s.Require().ErrorIs(err, domain.ErrProductNotFound)
	s.Equal(10, s.stock(s.p1))
}

func (s *LifecycleSuite) TestDeleteRestocks() {
	item := s.createItem(s.p1, 4)

	s.Require().NoError(s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		_, err := s.lifecycle.Delete(ctx, tx, order, item.ID)
		s.Empty(order.Items)
		return err
	}))
	s.Equal(10, s.stock(s.p1))
}

func (s *LifecycleSuite) TestUpdateSameProductDelta() {
	item := s.createItem(s.p1, 2)

	s.Require().NoError(s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		_, err := s.lifecycle.Update(ctx, tx, order, item.ID, orderitem.UpdateParams{Quantity: intPtr(5)})
		return err
	}))
	s.Equal(5, s.stock(s.p1))

	s.Require().NoError(s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		_, err := s.lifecycle.Update(ctx, tx, order, item.ID, orderitem.UpdateParams{Quantity: intPtr(1)})
		return err
	}))
	s.Equal(9, s.stock(s.p1))
}

func (s *LifecycleSuite) TestUpdateIncreaseBeyondStockFails() {
	item := s.createItem(s.p2, 2)

	err := s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		_, err := s.lifecycle.Update(ctx, tx, order, item.ID, orderitem.UpdateParams{Quantity: intPtr(4)})
		return err
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)
	s.Equal(1, s.stock(s.p2))
}

func (s *LifecycleSuite) TestProductChangeFailureLeavesBothStocks() {
	item := s.createItem(s.p1, 2)
	s.Require().Equal(8, s.stock(s.p1))

	err := s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		_, err := s.lifecycle.Update(ctx, tx, order, item.ID, orderitem.UpdateParams{
			ProductID: int64Ptr(s.p2), Quantity: intPtr(5),
		})
		return err
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)
	s.Equal(8, s.stock(s.p1))
	s.Equal(3, s.stock(s.p2))
}

func (s *LifecycleSuite) TestProductChangeSuccess() {
	item := s.createItem(s.p1, 2)

	var updated domain.OrderItem
	s.Require().NoError(s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		var err error
		updated, err = s.lifecycle.Update(ctx, tx, order, item.ID, orderitem.UpdateParams{
			ProductID: int64Ptr(s.p2), Quantity: intPtr(3),
		})
		return err
	}))
	s.Equal(10, s.stock(s.p1))
	s.Equal(0, s.stock(s.p2))
	s.Equal(s.p2, updated.ProductID)
	// Цена при смене товара не копируется заново.
	s.Equal(int64(1000), updated.PriceMinor)
}

func (s *LifecycleSuite) TestShippedQuantityFloor() {
	item := s.createItem(s.p1, 3)
	s.setStatus(domain.OrderStatusPaid)
	s.Require().NoError(s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		_, err := s.lifecycle.Ship(ctx, tx, order, item.ID, 2)
		return err
	}))
	s.Require().Equal(7, s.stock(s.p1))

	err := s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		_, err := s.lifecycle.Update(ctx, tx, order, item.ID, orderitem.UpdateParams{Quantity: intPtr(1)})
		return err
	})
	s.Require().ErrorIs(err, domain.ErrInvalidQuantity)
	s.Equal(7, s.stock(s.p1))

	s.Require().NoError(s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		got, _ := order.Item(item.ID)
		s.Equal(2, got.ShippedQuantity)
		s.Equal(3, got.Quantity)
		return nil
	}))
}

func (s *LifecycleSuite) TestShipBeyondQuantityFails() {
	item := s.createItem(s.p1, 1)
	s.setStatus(domain.OrderStatusPaid)
	err := s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		_, err := s.lifecycle.Ship(ctx, tx, order, item.ID, 2)
		return err
	})
	s.Require().ErrorIs(err, domain.ErrInvalidQuantity)
}

func (s *LifecycleSuite) TestShipRequiresPaidOrder() {
	item := s.createItem(s.p1, 3)

	err := s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		_, err := s.lifecycle.Ship(ctx, tx, order, item.ID, 2)
		return err
	})
	s.Require().ErrorIs(err, domain.ErrInvalidTransition)
	s.Require().NoError(s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		got, _ := order.Item(item.ID)
		s.Zero(got.ShippedQuantity)
		return nil
	}))
	s.Equal(7, s.stock(s.p1))
}

func (s *LifecycleSuite) TestImmutableOrderRejectsChanges() {
	item := s.createItem(s.p1, 1)
	s.setStatus(domain.OrderStatusCancelled)

	err := s.inTx(func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
		_, err := s.lifecycle.Delete(ctx, tx, order, item.ID)
		return err
	})
	s.Require().ErrorIs(err, domain.ErrOrderImmutable)
}

func TestUnknownItem(t *testing.T) {
	lifecycle := orderitem.NewLifecycle(inventory.NewLedger(nil, nil), nil, nil)
	store := memory.NewStore()
	order := &domain.Order{UID: "o", Status: domain.OrderStatusNew}

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := lifecycle.Update(ctx, tx, order, 99, orderitem.UpdateParams{Quantity: intPtr(1)})
		return err
	})
	require.ErrorIs(t, err, domain.ErrOrderItemNotFound)
}
