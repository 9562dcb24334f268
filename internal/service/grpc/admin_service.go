// Package grpcsvc реализует административный gRPC API магазина: заказы и каталог.
package grpcsvc

import (
	"context"
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/eshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/eshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/eshop/internal/service/orderitem"
	"github.com/vladislavdragonenkov/eshop/internal/service/orders"
	"github.com/vladislavdragonenkov/eshop/internal/service/view"
)

// OrderCreator оформляет заказ.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req checkout.Request) (checkout.Result, error)
}

// OrderManager — операции над оформленным заказом.
type OrderManager interface {
	Get(ctx context.Context, uid string) (orders.Details, error)
	Cancel(ctx context.Context, uid, reason string) (domain.Order, error)
	MarkPaid(ctx context.Context, uid, paymentReference string) (domain.Order, error)
	MarkShipped(ctx context.Context, uid string) (domain.Order, error)
	ShipItem(ctx context.Context, uid string, itemID int64, qty int) (domain.Order, error)
	AddItem(ctx context.Context, uid string, params orderitem.CreateParams) (domain.Order, error)
	RemoveItem(ctx context.Context, uid string, itemID int64) (domain.Order, error)
	MutateItem(ctx context.Context, uid string, itemID int64, params orderitem.UpdateParams) (domain.Order, error)
}

// Catalog — управление товарами.
type Catalog interface {
	CreateProduct(ctx context.Context, params catalog.CreateParams) (domain.Product, error)
	UpdateProduct(ctx context.Context, id int64, params catalog.UpdateParams) (domain.Product, error)
	AdjustStock(ctx context.Context, id int64, delta int) (domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// AdminService реализует AdminServer.
type AdminService struct {
	checkout OrderCreator
	orders   OrderManager
	catalog  Catalog
	guard    *idempotency.Guard
	logger   *log.Entry
}

// NewAdminService собирает сервис. Без guard CreateOrder не требует idempotency-key.
func NewAdminService(co OrderCreator, om OrderManager, cat Catalog, guard *idempotency.Guard, logger *log.Entry) *AdminService {
	if logger == nil {
		logger = log.WithField("component", "grpc-admin")
	}
	return &AdminService{checkout: co, orders: om, catalog: cat, guard: guard, logger: logger}
}

type failurePayload struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

// CreateOrder оформляет заказ. Повтор с тем же idempotency-key возвращает сохранённый ответ.
func (s *AdminService) CreateOrder(ctx context.Context, req *checkout.Request) (*OrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if s.guard == nil {
		return s.createOrder(ctx, *req)
	}

	key, err := readIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be encoded")
	}

	resp, err := s.guard.Execute(ctx, key, idempotency.HashRequest(fullMethod(methodCreateOrder), body),
		func(ctx context.Context) idempotency.Response {
			out, runErr := s.createOrder(ctx, *req)
			if runErr != nil {
				st := status.Convert(runErr)
				payload, _ := json.Marshal(failurePayload{Code: uint32(st.Code()), Message: st.Message()})
				return idempotency.Response{Code: int(st.Code()), Body: payload, Failed: true}
			}
			payload, _ := json.Marshal(out)
			return idempotency.Response{Code: int(codes.OK), Body: payload, OrderUID: out.Order.UID}
		})
	if err != nil {
		return nil, toStatus(err)
	}
	if resp.Replayed {
		s.logger.WithField("idempotency_key", key).Debug("create order replayed")
	}
	return decodeOrderResponse(resp)
}

func (s *AdminService) createOrder(ctx context.Context, req checkout.Request) (*OrderResponse, error) {
	res, err := s.checkout.CreateOrder(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	out := view.FromOrder(res.Order)
	out.Conversion = view.FromConversion(res.Conversion)
	return &OrderResponse{Order: out}, nil
}

func decodeOrderResponse(resp idempotency.Response) (*OrderResponse, error) {
	if resp.Failed {
		var failure failurePayload
		if err := json.Unmarshal(resp.Body, &failure); err != nil || failure.Code == uint32(codes.OK) {
			return nil, status.Error(codes.Internal, "previous request with the same idempotency key failed")
		}
		return nil, status.Error(codes.Code(failure.Code), failure.Message)
	}
	var out OrderResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
	}
	return &out, nil
}

// GetOrder возвращает заказ с конверсией и историей.
func (s *AdminService) GetOrder(ctx context.Context, req *OrderRef) (*OrderResponse, error) {
	if err := requireUID(req.UID); err != nil {
		return nil, err
	}
	d, err := s.orders.Get(ctx, req.UID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderResponse{Order: view.FromDetails(d)}, nil
}

// CancelOrder отменяет заказ и возвращает товар на склад.
func (s *AdminService) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*OrderResponse, error) {
	if err := requireUID(req.UID); err != nil {
		return nil, err
	}
	return orderResponse(s.orders.Cancel(ctx, req.UID, req.Reason))
}

// MarkPaid подтверждает оплату.
func (s *AdminService) MarkPaid(ctx context.Context, req *MarkPaidRequest) (*OrderResponse, error) {
	if err := requireUID(req.UID); err != nil {
		return nil, err
	}
	return orderResponse(s.orders.MarkPaid(ctx, req.UID, req.PaymentReference))
}

// MarkShipped отгружает заказ целиком.
func (s *AdminService) MarkShipped(ctx context.Context, req *OrderRef) (*OrderResponse, error) {
	if err := requireUID(req.UID); err != nil {
		return nil, err
	}
	return orderResponse(s.orders.MarkShipped(ctx, req.UID))
}

// ShipItem отгружает часть позиции.
func (s *AdminService) ShipItem(ctx context.Context, req *ShipItemRequest) (*OrderResponse, error) {
	if err := requireUID(req.UID); err != nil {
		return nil, err
	}
	return orderResponse(s.orders.ShipItem(ctx, req.UID, req.ItemID, req.Quantity))
}

// AddItem добавляет позицию.
func (s *AdminService) AddItem(ctx context.Context, req *AddItemRequest) (*OrderResponse, error) {
	if err := requireUID(req.UID); err != nil {
		return nil, err
	}
	return orderResponse(s.orders.AddItem(ctx, req.UID, orderitem.CreateParams{
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		PriceMinor: req.PriceMinor,
	}))
}

// RemoveItem удаляет позицию.
func (s *AdminService) RemoveItem(ctx context.Context, req *RemoveItemRequest) (*OrderResponse, error) {
	if err := requireUID(req.UID); err != nil {
		return nil, err
	}
	return orderResponse(s.orders.RemoveItem(ctx, req.UID, req.ItemID))
}

// MutateItem меняет количество или товар позиции.
func (s *AdminService) MutateItem(ctx context.Context, req *MutateItemRequest) (*OrderResponse, error) {
	if err := requireUID(req.UID); err != nil {
		return nil, err
	}
	return orderResponse(s.orders.MutateItem(ctx, req.UID, req.ItemID, orderitem.UpdateParams{
		Quantity:  req.Quantity,
		ProductID: req.ProductID,
	}))
}

// CreateProduct добавляет товар в каталог.
func (s *AdminService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*ProductResponse, error) {
	return productResponse(s.catalog.CreateProduct(ctx, catalog.CreateParams{
		SKU:        req.SKU,
		Name:       req.Name,
		PriceMinor: req.PriceMinor,
		Stock:      req.Stock,
		Active:     req.Active,
	}))
}

// UpdateProduct правит товар.
func (s *AdminService) UpdateProduct(ctx context.Context, req *UpdateProductRequest) (*ProductResponse, error) {
	return productResponse(s.catalog.UpdateProduct(ctx, req.ID, catalog.UpdateParams{
		Name:       req.Name,
		PriceMinor: req.PriceMinor,
		Active:     req.Active,
	}))
}

// AdjustStock меняет остаток.
func (s *AdminService) AdjustStock(ctx context.Context, req *AdjustStockRequest) (*ProductResponse, error) {
	return productResponse(s.catalog.AdjustStock(ctx, req.ID, req.Delta))
}

// ListProducts возвращает каталог.
func (s *AdminService) ListProducts(ctx context.Context, _ *ListProductsRequest) (*ListProductsResponse, error) {
	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListProductsResponse{Products: view.FromProducts(products)}, nil
}

func orderResponse(order domain.Order, err error) (*OrderResponse, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderResponse{Order: view.FromOrder(order)}, nil
}

func productResponse(product domain.Product, err error) (*ProductResponse, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return &ProductResponse{Product: view.FromProduct(product)}, nil
}

func requireUID(uid string) error {
	if strings.TrimSpace(uid) == "" {
		return status.Error(codes.InvalidArgument, "uid is required")
	}
	return nil
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(domain.IdempotencyHeader); len(values) > 0 {
			if key := strings.TrimSpace(values[0]); key != "" {
				return key, nil
			}
		}
	}
	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

var _ AdminServer = (*AdminService)(nil)
