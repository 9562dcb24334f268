package checkout_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/service/attribution"
	"github.com/vladislavdragonenkov/eshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/eshop/internal/service/inventory"
	"github.com/vladislavdragonenkov/eshop/internal/service/orderitem"
	"github.com/vladislavdragonenkov/eshop/internal/storage/memory"
)

type notifierStub struct {
	mu     sync.Mutex
	events []domain.PurchaseEvent
	err    error
}

func (n *notifierStub) NotifyPurchase(_ context.Context, event domain.PurchaseEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *notifierStub) sent() []domain.PurchaseEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.PurchaseEvent(nil), n.events...)
}

type CheckoutSuite struct {
	suite.Suite
	ctx        context.Context
	store      *memory.Store
	lifecycle  *orderitem.Lifecycle
	notifier   *notifierStub
	dispatcher *attribution.Dispatcher
	checkout   *checkout.Orchestrator

	cup, plate, hidden int64
}

func TestCheckoutSuite(t *testing.T) {
	suite.Run(t, new(CheckoutSuite))
}

func (s *CheckoutSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	ledger := inventory.NewLedger(nil, nil)
	s.lifecycle = orderitem.NewLifecycle(ledger, nil, nil)
	s.notifier = &notifierStub{}
	s.dispatcher = attribution.NewDispatcher(s.notifier, "USD", attribution.WithTimeout(time.Second))
	s.checkout = checkout.NewOrchestrator(s.store, ledger, s.lifecycle, attribution.NewLinker(nil),
		checkout.WithDispatcher(s.dispatcher))

	s.cup = s.seedProduct("CUP", 1000, 10, true)
	s.plate = s.seedProduct("PLATE", 550, 5, true)
	s.hidden = s.seedProduct("HIDDEN", 100, 5, false)
}

func (s *CheckoutSuite) seedProduct(sku string, price int64, stock int, active bool) int64 {
	p := domain.Product{SKU: sku, Name: sku, PriceMinor: price, Stock: stock, Active: active}
	s.Require().NoError(s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Products().Create(ctx, &p)
	}))
	return p.ID
}

func (s *CheckoutSuite) stock(id int64) int {
	var stock int
	s.Require().NoError(s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Products().Get(ctx, id)
		stock = p.Stock
		return err
	}))
	return stock
}

func (s *CheckoutSuite) request(lines ...checkout.LineInput) checkout.Request {
	return checkout.Request{
		Customer: checkout.CustomerInput{FullName: "Ivan Petrov", Phone: "+79990001122", Address: "Lenina 1"},
		Items:    lines,
	}
}

func (s *CheckoutSuite) TestCreateOrderDeductsStockAndComputesTotal() {
	res, err := s.checkout.CreateOrder(s.ctx, s.request(
		checkout.LineInput{ProductID: s.cup, Quantity: 2},
		checkout.LineInput{ProductID: s.plate, Quantity: 3},
	))
	s.Require().NoError(err)

	s.NotEmpty(res.Order.UID)
	s.Equal(domain.OrderStatusNew, res.Order.Status)
	s.Len(res.Order.Items, 2)
	s.Equal(int64(3650), res.Order.TotalMinor())
	s.Equal("36.50", domain.FormatMinor(res.Order.TotalMinor()))
	s.Equal("Lenina 1", res.Order.ShippingAddress)

	s.Equal(8, s.stock(s.cup))
	s.Equal(2, s.stock(s.plate))

	pending, err := s.store.Outbox().PullPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(domain.EventOrderCreated, pending[0].EventType)
	s.Equal(res.Order.UID, pending[0].AggregateID)

	history, err := s.store.Timeline().List(s.ctx, res.Order.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(domain.TimelineOrderCreated, history[0].Type)
}

func (s *CheckoutSuite) TestDuplicateLinesAreMerged() {
	res, err := s.checkout.CreateOrder(s.ctx, s.request(
		checkout.LineInput{ProductID: s.cup, Quantity: 1},
		checkout.LineInput{ProductID: s.cup, Quantity: 2},
	))
	s.Require().NoError(err)
	s.Require().Len(res.Order.Items, 1)
	s.Equal(3, res.Order.Items[0].Quantity)
	s.Equal(7, s.stock(s.cup))
}

func (s *CheckoutSuite) TestDuplicateLinesOverflowRejected() {
	huge := math.MaxInt/3 + 1
	_, err := s.checkout.CreateOrder(s.ctx, s.request(
		checkout.LineInput{ProductID: s.cup, Quantity: huge},
		checkout.LineInput{ProductID: s.cup, Quantity: huge},
		checkout.LineInput{ProductID: s.cup, Quantity: huge},
	))
	s.Require().ErrorIs(err, domain.ErrInvalidQuantity)
	s.Equal(10, s.stock(s.cup))

	pending, err := s.store.Outbox().PullPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *CheckoutSuite) TestAllOrNothing() {
	tests := []struct {
		name  string
		lines []checkout.LineInput
		want  error
	}{
		{
			name:  "second line exceeds stock",
			lines: []checkout.LineInput{{ProductID: s.cup, Quantity: 2}, {ProductID: s.plate, Quantity: 6}},
			want:  domain.ErrInsufficientStock,
		},
		{
			name:  "unknown product",
			lines: []checkout.LineInput{{ProductID: s.cup, Quantity: 2}, {ProductID: 999, Quantity: 1}},
			want:  domain.ErrProductNotFound,
		},
		{
			name:  "inactive product",
			lines: []checkout.LineInput{{ProductID: s.cup, Quantity: 2}, {ProductID: s.hidden, Quantity: 1}},
			want:  domain.ErrProductNotFound,
		},
		{
			name:  "zero quantity",
			lines: []checkout.LineInput{{ProductID: s.cup, Quantity: 2}, {ProductID: s.plate, Quantity: 0}},
			want:  domain.ErrInvalidQuantity,
		},
		{
			name: "no lines",
			want: domain.ErrItemsRequired,
		},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.checkout.CreateOrder(s.ctx, s.request(tt.lines...))
			s.Require().ErrorIs(err, tt.want)
			s.Equal(10, s.stock(s.cup))
			s.Equal(5, s.stock(s.plate))

			pending, err := s.store.Outbox().PullPending(s.ctx, 10)
			s.Require().NoError(err)
			s.Empty(pending)
		})
	}
}

func (s *CheckoutSuite) TestStockErrorCarriesDetails() {
	_, err := s.checkout.CreateOrder(s.ctx, s.request(checkout.LineInput{ProductID: s.plate, Quantity: 9}))

	var stockErr *domain.StockError
	s.Require().True(errors.As(err, &stockErr))
	s.Equal(s.plate, stockErr.ProductID)
	s.Equal(9, stockErr.Requested)
	s.Equal(5, stockErr.Available)
}

func (s *CheckoutSuite) TestMissingCustomerFields() {
	req := s.request(checkout.LineInput{ProductID: s.cup, Quantity: 1})
	req.Customer.Phone = "  "
	_, err := s.checkout.CreateOrder(s.ctx, req)
	s.Require().ErrorIs(err, domain.ErrMissingCustomerField)
	s.True(domain.IsValidation(err))

	req = s.request(checkout.LineInput{ProductID: s.cup, Quantity: 1})
	req.Customer.FullName = ""
	_, err = s.checkout.CreateOrder(s.ctx, req)
	s.Require().ErrorIs(err, domain.ErrMissingCustomerField)
	s.Equal(10, s.stock(s.cup))
}

func (s *CheckoutSuite) TestCustomerUpsertedByPhone() {
	first, err := s.checkout.CreateOrder(s.ctx, s.request(checkout.LineInput{ProductID: s.cup, Quantity: 1}))
	s.Require().NoError(err)

	req := s.request(checkout.LineInput{ProductID: s.cup, Quantity: 1})
	req.Customer.FullName = "Ivan P."
	req.Customer.Address = ""
	req.ShippingAddress = "Mira 5"
	second, err := s.checkout.CreateOrder(s.ctx, req)
	s.Require().NoError(err)

	s.Equal(first.Order.CustomerID, second.Order.CustomerID)
	s.Equal("Mira 5", second.Order.ShippingAddress)
	s.NotEqual(first.Order.UID, second.Order.UID)

	s.Require().NoError(s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.Tx) error {
		customer, err := tx.Customers().Get(ctx, second.Order.CustomerID)
		s.Require().NoError(err)
		s.Equal("Ivan P.", customer.FullName)
		s.Equal("Lenina 1", customer.Address)
		return nil
	}))
}

func (s *CheckoutSuite) TestAttributionFromSessionCampaign() {
	var campaignID int64
	s.Require().NoError(s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.Tx) error {
		c, err := tx.Campaigns().GetOrCreate(ctx, domain.CampaignFromUTM("tiktok", "paid", "spring"))
		campaignID = c.ID
		return err
	}))

	req := s.request(checkout.LineInput{ProductID: s.cup, Quantity: 2})
	req.CampaignID = &campaignID
	res, err := s.checkout.CreateOrder(s.ctx, req)
	s.Require().NoError(err)

	s.Equal("spring", res.Order.AttributionSource)
	s.Require().NotNil(res.Conversion.CampaignID)
	s.Equal(campaignID, *res.Conversion.CampaignID)
	s.Equal(int64(2000), res.Conversion.ValueMinor)
	s.Require().NotNil(res.Order.ConversionValueMinor)
	s.Equal(int64(2000), *res.Order.ConversionValueMinor)
}

func (s *CheckoutSuite) TestStaleCampaignLeavesOrderUnattributed() {
	stale := int64(404)
	req := s.request(checkout.LineInput{ProductID: s.cup, Quantity: 1})
	req.CampaignID = &stale
	res, err := s.checkout.CreateOrder(s.ctx, req)
	s.Require().NoError(err)

	s.Empty(res.Order.AttributionSource)
	s.Nil(res.Conversion.CampaignID)
	s.Equal(int64(1000), res.Conversion.ValueMinor)
}

func (s *CheckoutSuite) TestConversionValueFrozenAfterItemChange() {
	res, err := s.checkout.CreateOrder(s.ctx, s.request(checkout.LineInput{ProductID: s.cup, Quantity: 2}))
	s.Require().NoError(err)
	itemID := res.Order.Items[0].ID

	s.Require().NoError(s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().LockByUID(ctx, res.Order.UID)
		if err != nil {
			return err
		}
		if order.Items, err = tx.Items().ListByOrder(ctx, order.ID); err != nil {
			return err
		}
		qty := 5
		_, err = s.lifecycle.Update(ctx, tx, &order, itemID, orderitem.UpdateParams{Quantity: &qty})
		return err
	}))

	s.Require().NoError(s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.Tx) error {
		conversion, err := tx.Conversions().GetByOrder(ctx, res.Order.ID)
		s.Require().NoError(err)
		s.Equal(int64(2000), conversion.ValueMinor)

		order, err := tx.Orders().GetByUID(ctx, res.Order.UID)
		s.Require().NoError(err)
		s.Require().NotNil(order.ConversionValueMinor)
		s.Equal(int64(2000), *order.ConversionValueMinor)
		return nil
	}))
}

func (s *CheckoutSuite) TestNotifierReceivesPurchaseAfterCommit() {
	res, err := s.checkout.CreateOrder(s.ctx, s.request(checkout.LineInput{ProductID: s.plate, Quantity: 2}))
	s.Require().NoError(err)
	s.Require().NoError(s.dispatcher.Shutdown(s.ctx))

	events := s.notifier.sent()
	s.Require().Len(events, 1)
	s.Equal(res.Order.UID, events[0].OrderUID)
	s.Equal(int64(1100), events[0].ValueMinor)
	s.Equal("USD", events[0].Currency)
	s.Equal(attribution.EventCompletePayment, events[0].EventName)
}

func (s *CheckoutSuite) TestNotifierFailureDoesNotFailOrder() {
	s.notifier.err = errors.Join(domain.ErrExternalService, errors.New("503"))

	res, err := s.checkout.CreateOrder(s.ctx, s.request(checkout.LineInput{ProductID: s.cup, Quantity: 1}))
	s.Require().NoError(err)
	s.Require().NoError(s.dispatcher.Shutdown(s.ctx))

	s.Len(s.notifier.sent(), 1)
	s.Equal(9, s.stock(s.cup))
	s.NotEmpty(res.Order.UID)
}

func TestCreateOrder_LastUnitRace(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := inventory.NewLedger(nil, nil)
	orch := checkout.NewOrchestrator(store, ledger, orderitem.NewLifecycle(ledger, nil, nil), attribution.NewLinker(nil))

	product := domain.Product{SKU: "LAST", Name: "Last one", PriceMinor: 990, Stock: 1, Active: true}
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Products().Create(ctx, &product)
	}))

	phones := []string{"+70000000001", "+70000000002"}
	errs := make([]error, len(phones))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, phone := range phones {
		wg.Add(1)
		go func(i int, phone string) {
			defer wg.Done()
			<-start
			_, errs[i] = orch.CreateOrder(ctx, checkout.Request{
				Customer: checkout.CustomerInput{FullName: "Buyer", Phone: phone},
				Items:    []checkout.LineInput{{ProductID: product.ID, Quantity: 1}},
			})
		}(i, phone)
	}
	close(start)
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, insufficient)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Products().Get(ctx, product.ID)
		require.NoError(t, err)
		require.Equal(t, 0, p.Stock)
		return nil
	}))
}
