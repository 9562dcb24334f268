package grpcsvc_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/service/attribution"
	"github.com/vladislavdragonenkov/eshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/eshop/internal/service/checkout"
	grpcsvc "github.com/vladislavdragonenkov/eshop/internal/service/grpc"
	"github.com/vladislavdragonenkov/eshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/eshop/internal/service/inventory"
	"github.com/vladislavdragonenkov/eshop/internal/service/orderitem"
	"github.com/vladislavdragonenkov/eshop/internal/service/orders"
	"github.com/vladislavdragonenkov/eshop/internal/storage/memory"
)

type AdminSuite struct {
	suite.Suite
	ctx    context.Context
	server *grpc.Server
	conn   *grpc.ClientConn
	client *grpcsvc.AdminClient

	cup, plate int64
}

func TestAdminSuite(t *testing.T) {
	suite.Run(t, new(AdminSuite))
}

func (s *AdminSuite) SetupTest() {
	s.ctx = context.Background()

	store := memory.NewStore()
	ledger := inventory.NewLedger(nil, nil)
	lifecycle := orderitem.NewLifecycle(ledger, nil, nil)
	admin := grpcsvc.NewAdminService(
		checkout.NewOrchestrator(store, ledger, lifecycle, attribution.NewLinker(nil)),
		orders.NewService(store, lifecycle, store.Timeline(), nil, nil),
		catalog.NewService(store, ledger, nil),
		idempotency.NewGuard(memory.NewIdempotencyRepository()),
		nil,
	)

	lis := bufconn.Listen(1 << 20)
	s.server = grpc.NewServer()
	grpcsvc.RegisterAdminServiceServer(s.server, admin)
	go func() { _ = s.server.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	s.Require().NoError(err)
	s.conn = conn
	s.client = grpcsvc.NewAdminClient(conn)

	s.cup = s.createProduct("CUP", 1000, 10)
	s.plate = s.createProduct("PLATE", 550, 5)
}

func (s *AdminSuite) TearDownTest() {
	_ = s.conn.Close()
	s.server.Stop()
}

func (s *AdminSuite) createProduct(sku string, price int64, stock int) int64 {
	resp, err := s.client.CreateProduct(s.ctx, &grpcsvc.CreateProductRequest{SKU: sku, Name: sku, PriceMinor: price, Stock: stock, Active: true})
	s.Require().NoError(err)
	return resp.Product.ID
}

func (s *AdminSuite) withKey(key string) context.Context {
	return metadata.AppendToOutgoingContext(s.ctx, domain.IdempotencyHeader, key)
}

func (s *AdminSuite) orderRequest(qty int) *checkout.Request {
	return &checkout.Request{
		Customer: checkout.CustomerInput{FullName: "Ivan Petrov", Phone: "+79990001122", Address: "Lenina 1"},
		Items: []checkout.LineInput{
			{ProductID: s.cup, Quantity: qty},
			{ProductID: s.plate, Quantity: 3},
		},
	}
}

func (s *AdminSuite) stock(id int64) int {
	resp, err := s.client.ListProducts(s.ctx, &grpcsvc.ListProductsRequest{})
	s.Require().NoError(err)
	for _, p := range resp.Products {
		if p.ID == id {
			return p.Stock
		}
	}
	s.FailNow("product not found")
	return 0
}

func (s *AdminSuite) TestCreateOrderReturnsTotalAndConversion() {
	resp, err := s.client.CreateOrder(s.withKey("k-1"), s.orderRequest(2))
	s.Require().NoError(err)

	s.NotEmpty(resp.Order.UID)
	s.Equal("new", resp.Order.Status)
	s.Equal(int64(3650), resp.Order.TotalMinor)
	s.Equal("36.50", resp.Order.Total)
	s.Require().NotNil(resp.Order.Conversion)
	s.Equal(int64(3650), resp.Order.Conversion.ValueMinor)
	s.Equal(8, s.stock(s.cup))
}

func (s *AdminSuite) TestCreateOrderIdempotentReplay() {
	first, err := s.client.CreateOrder(s.withKey("k-2"), s.orderRequest(2))
	s.Require().NoError(err)

	second, err := s.client.CreateOrder(s.withKey("k-2"), s.orderRequest(2))
	s.Require().NoError(err)
	s.Equal(first.Order.UID, second.Order.UID)
	s.Equal(8, s.stock(s.cup), "replay must not deduct stock twice")

	_, err = s.client.CreateOrder(s.withKey("k-2"), s.orderRequest(1))
	s.Equal(codes.AlreadyExists, status.Code(err))
}

func (s *AdminSuite) TestCreateOrderRequiresKey() {
	_, err := s.client.CreateOrder(s.ctx, s.orderRequest(1))
	s.Equal(codes.InvalidArgument, status.Code(err))
}

func (s *AdminSuite) TestCreateOrderFailureIsReplayed() {
	_, err := s.client.CreateOrder(s.withKey("k-3"), s.orderRequest(11))
	s.Equal(codes.FailedPrecondition, status.Code(err))

	s.createProductStock(s.cup, 5)
	_, err = s.client.CreateOrder(s.withKey("k-3"), s.orderRequest(11))
	s.Equal(codes.FailedPrecondition, status.Code(err), "stored failure is replayed for the same key")
	s.Equal(15, s.stock(s.cup))
}

func (s *AdminSuite) createProductStock(id int64, delta int) {
	_, err := s.client.AdjustStock(s.ctx, &grpcsvc.AdjustStockRequest{ID: id, Delta: delta})
	s.Require().NoError(err)
}

func (s *AdminSuite) TestOrderLifecycle() {
	created, err := s.client.CreateOrder(s.withKey("k-4"), s.orderRequest(2))
	s.Require().NoError(err)
	uid := created.Order.UID

	paid, err := s.client.MarkPaid(s.ctx, &grpcsvc.MarkPaidRequest{UID: uid, PaymentReference: "pay-1"})
	s.Require().NoError(err)
	s.Equal("paid", paid.Order.Status)
	s.Equal("pay-1", paid.Order.PaymentReference)

	shipped, err := s.client.MarkShipped(s.ctx, &grpcsvc.OrderRef{UID: uid})
	s.Require().NoError(err)
	s.Equal("shipped", shipped.Order.Status)
	for _, item := range shipped.Order.Items {
		s.Equal(item.Quantity, item.ShippedQuantity)
	}

	_, err = s.client.CancelOrder(s.ctx, &grpcsvc.CancelOrderRequest{UID: uid})
	s.Equal(codes.FailedPrecondition, status.Code(err))

	got, err := s.client.GetOrder(s.ctx, &grpcsvc.OrderRef{UID: uid})
	s.Require().NoError(err)
	s.Len(got.Order.Timeline, 3)
}

func (s *AdminSuite) TestItemMutations() {
	created, err := s.client.CreateOrder(s.withKey("k-5"), s.orderRequest(2))
	s.Require().NoError(err)
	uid := created.Order.UID
	cupItem := created.Order.Items[0].ID

	qty := 4
	resp, err := s.client.MutateItem(s.ctx, &grpcsvc.MutateItemRequest{UID: uid, ItemID: cupItem, Quantity: &qty})
	s.Require().NoError(err)
	s.Equal(int64(5650), resp.Order.TotalMinor)
	s.Equal(6, s.stock(s.cup))

	resp, err = s.client.RemoveItem(s.ctx, &grpcsvc.RemoveItemRequest{UID: uid, ItemID: cupItem})
	s.Require().NoError(err)
	s.Len(resp.Order.Items, 1)
	s.Equal(10, s.stock(s.cup))

	_, err = s.client.AddItem(s.ctx, &grpcsvc.AddItemRequest{UID: uid, ProductID: s.cup, Quantity: 11})
	s.Equal(codes.FailedPrecondition, status.Code(err))

	got, err := s.client.GetOrder(s.ctx, &grpcsvc.OrderRef{UID: uid})
	s.Require().NoError(err)
	s.Equal(int64(3650), got.Order.Conversion.ValueMinor, "conversion keeps the value from creation")
	s.Equal(int64(1650), got.Order.TotalMinor)
}

func (s *AdminSuite) TestErrorCodes() {
	_, err := s.client.GetOrder(s.ctx, &grpcsvc.OrderRef{UID: "missing"})
	s.Equal(codes.NotFound, status.Code(err))

	_, err = s.client.GetOrder(s.ctx, &grpcsvc.OrderRef{})
	s.Equal(codes.InvalidArgument, status.Code(err))

	_, err = s.client.CreateProduct(s.ctx, &grpcsvc.CreateProductRequest{SKU: "CUP", PriceMinor: 1, Stock: 1})
	s.Equal(codes.AlreadyExists, status.Code(err))

	_, err = s.client.AdjustStock(s.ctx, &grpcsvc.AdjustStockRequest{ID: s.plate, Delta: -6})
	s.Equal(codes.FailedPrecondition, status.Code(err))

	price := int64(-1)
	_, err = s.client.UpdateProduct(s.ctx, &grpcsvc.UpdateProductRequest{ID: s.plate, PriceMinor: &price})
	s.Equal(codes.InvalidArgument, status.Code(err))
}

func (s *AdminSuite) TestUpdateProduct() {
	name, active := "Big cup", false
	resp, err := s.client.UpdateProduct(s.ctx, &grpcsvc.UpdateProductRequest{ID: s.cup, Name: &name, Active: &active})
	s.Require().NoError(err)
	s.Equal("Big cup", resp.Product.Name)
	s.False(resp.Product.Available)

	_, err = s.client.CreateOrder(s.withKey("k-6"), s.orderRequest(1))
	s.Equal(codes.NotFound, status.Code(err))
}
