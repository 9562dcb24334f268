package grpcsvc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/eshop/internal/service/checkout"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "eshop.v1.AdminService"

const (
	methodCreateOrder   = "CreateOrder"
	methodGetOrder      = "GetOrder"
	methodCancelOrder   = "CancelOrder"
	methodMarkPaid      = "MarkPaid"
	methodMarkShipped   = "MarkShipped"
	methodShipItem      = "ShipItem"
	methodAddItem       = "AddItem"
	methodRemoveItem    = "RemoveItem"
	methodMutateItem    = "MutateItem"
	methodCreateProduct = "CreateProduct"
	methodUpdateProduct = "UpdateProduct"
	methodAdjustStock   = "AdjustStock"
	methodListProducts  = "ListProducts"
)

// AdminServer — серверная сторона AdminService.
type AdminServer interface {
	CreateOrder(context.Context, *checkout.Request) (*OrderResponse, error)
	GetOrder(context.Context, *OrderRef) (*OrderResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*OrderResponse, error)
	MarkPaid(context.Context, *MarkPaidRequest) (*OrderResponse, error)
	MarkShipped(context.Context, *OrderRef) (*OrderResponse, error)
	ShipItem(context.Context, *ShipItemRequest) (*OrderResponse, error)
	AddItem(context.Context, *AddItemRequest) (*OrderResponse, error)
	RemoveItem(context.Context, *RemoveItemRequest) (*OrderResponse, error)
	MutateItem(context.Context, *MutateItemRequest) (*OrderResponse, error)
	CreateProduct(context.Context, *CreateProductRequest) (*ProductResponse, error)
	UpdateProduct(context.Context, *UpdateProductRequest) (*ProductResponse, error)
	AdjustStock(context.Context, *AdjustStockRequest) (*ProductResponse, error)
	ListProducts(context.Context, *ListProductsRequest) (*ListProductsResponse, error)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary описывает метод: декодирует запрос и пропускает вызов через interceptor.
func unary[Req, Resp any](name string, call func(AdminServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				out, err := call(srv.(AdminServer), ctx, in)
				return out, err
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				out, err := call(srv.(AdminServer), ctx, req.(*Req))
				return out, err
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// AdminServiceDesc описывает AdminService без protobuf-кодогенерации.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodCreateOrder, AdminServer.CreateOrder),
		unary(methodGetOrder, AdminServer.GetOrder),
		unary(methodCancelOrder, AdminServer.CancelOrder),
		unary(methodMarkPaid, AdminServer.MarkPaid),
		unary(methodMarkShipped, AdminServer.MarkShipped),
		unary(methodShipItem, AdminServer.ShipItem),
		unary(methodAddItem, AdminServer.AddItem),
		unary(methodRemoveItem, AdminServer.RemoveItem),
		unary(methodMutateItem, AdminServer.MutateItem),
		unary(methodCreateProduct, AdminServer.CreateProduct),
		unary(methodUpdateProduct, AdminServer.UpdateProduct),
		unary(methodAdjustStock, AdminServer.AdjustStock),
		unary(methodListProducts, AdminServer.ListProducts),
	},
	Metadata: "eshop/v1/admin.json",
}

// RegisterAdminServiceServer регистрирует реализацию на сервере.
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

// AdminClient — клиент AdminService с JSON-кодеком.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient создаёт клиента поверх соединения.
func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, in *Req, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) CreateOrder(ctx context.Context, in *checkout.Request, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[checkout.Request, OrderResponse](ctx, c.cc, methodCreateOrder, in, opts)
}

func (c *AdminClient) GetOrder(ctx context.Context, in *OrderRef, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderRef, OrderResponse](ctx, c.cc, methodGetOrder, in, opts)
}

func (c *AdminClient) CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[CancelOrderRequest, OrderResponse](ctx, c.cc, methodCancelOrder, in, opts)
}

func (c *AdminClient) MarkPaid(ctx context.Context, in *MarkPaidRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[MarkPaidRequest, OrderResponse](ctx, c.cc, methodMarkPaid, in, opts)
}

func (c *AdminClient) MarkShipped(ctx context.Context, in *OrderRef, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderRef, OrderResponse](ctx, c.cc, methodMarkShipped, in, opts)
}

func (c *AdminClient) ShipItem(ctx context.Context, in *ShipItemRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[ShipItemRequest, OrderResponse](ctx, c.cc, methodShipItem, in, opts)
}

func (c *AdminClient) AddItem(ctx context.Context, in *AddItemRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[AddItemRequest, OrderResponse](ctx, c.cc, methodAddItem, in, opts)
}

func (c *AdminClient) RemoveItem(ctx context.Context, in *RemoveItemRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[RemoveItemRequest, OrderResponse](ctx, c.cc, methodRemoveItem, in, opts)
}

func (c *AdminClient) MutateItem(ctx context.Context, in *MutateItemRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[MutateItemRequest, OrderResponse](ctx, c.cc, methodMutateItem, in, opts)
}

func (c *AdminClient) CreateProduct(ctx context.Context, in *CreateProductRequest, opts ...grpc.CallOption) (*ProductResponse, error) {
	return invoke[CreateProductRequest, ProductResponse](ctx, c.cc, methodCreateProduct, in, opts)
}

func (c *AdminClient) UpdateProduct(ctx context.Context, in *UpdateProductRequest, opts ...grpc.CallOption) (*ProductResponse, error) {
	return invoke[UpdateProductRequest, ProductResponse](ctx, c.cc, methodUpdateProduct, in, opts)
}

func (c *AdminClient) AdjustStock(ctx context.Context, in *AdjustStockRequest, opts ...grpc.CallOption) (*ProductResponse, error) {
	return invoke[AdjustStockRequest, ProductResponse](ctx, c.cc, methodAdjustStock, in, opts)
}

func (c *AdminClient) ListProducts(ctx context.Context, in *ListProductsRequest, opts ...grpc.CallOption) (*ListProductsResponse, error) {
	return invoke[ListProductsRequest, ListProductsResponse](ctx, c.cc, methodListProducts, in, opts)
}
