// Package httpapi реализует HTTP-границу витрины и админки: разбор заказов из JSON и форм,
// UTM-атрибуция визита и ответы в едином JSON-формате.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/service/attribution"
	"github.com/vladislavdragonenkov/eshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/eshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/eshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/eshop/internal/service/orderitem"
	"github.com/vladislavdragonenkov/eshop/internal/service/orders"
)

const (
	apiPrefix      = "/api/v1"
	defaultTimeout = 30 * time.Second
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

// Deps — зависимости роутера. Guard и Linker необязательны.
type Deps struct {
	Tx       domain.TxManager
	Checkout OrderCreator
	Orders   OrderManager
	Catalog  Catalog
	Linker   *attribution.Linker
	Guard    *idempotency.Guard
	Logger   *log.Entry
}

type handlers struct {
	checkout OrderCreator
	orders   OrderManager
	catalog  Catalog
	guard    *idempotency.Guard
	logger   *log.Entry
}

// NewRouter собирает chi-роутер с общими middleware.
func NewRouter(deps Deps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	h := &handlers{
		checkout: deps.Checkout,
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		guard:    deps.Guard,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultTimeout))
	r.Use(accessLog(logger))
	if deps.Tx != nil && deps.Linker != nil {
		r.Use(CaptureUTM(deps.Tx, deps.Linker, logger.WithField("component", "utm")))
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, newAPIError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, newAPIError("method_not_allowed",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Route(apiPrefix, func(api chi.Router) {
		api.Get("/products", h.listAvailableProducts)

		api.Post("/orders", h.createOrder)
		api.Get("/orders/{uid}", h.getOrder)
		api.Post("/orders/{uid}/cancel", h.cancelOrder)

		api.Route("/admin", func(admin chi.Router) {
			admin.Get("/products", h.listProducts)
			admin.Post("/products", h.createProduct)
			admin.Patch("/products/{id}", h.updateProduct)
			admin.Post("/products/{id}/stock", h.adjustStock)

			admin.Post("/orders/{uid}/pay", h.markPaid)
			admin.Post("/orders/{uid}/ship", h.markShipped)
			admin.Post("/orders/{uid}/items", h.addItem)
			admin.Patch("/orders/{uid}/items/{itemID}", h.mutateItem)
			admin.Delete("/orders/{uid}/items/{itemID}", h.removeItem)
			admin.Post("/orders/{uid}/items/{itemID}/ship", h.shipItem)
		})
	})
	return r
}

func accessLog(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(log.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}
