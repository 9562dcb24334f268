package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/eshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/eshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/eshop/internal/service/orderitem"
	"github.com/vladislavdragonenkov/eshop/internal/service/view"
)

// ReplayedHeader выставляется, когда ответ взят из хранилища идемпотентности.
const ReplayedHeader = "Idempotent-Replayed"

type orderEnvelope struct {
	Order view.Order `json:"order"`
}

type productEnvelope struct {
	Product view.Product `json:"product"`
}

type productsEnvelope struct {
	Products []view.Product `json:"products"`
}

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOrderRequest(w, r)
	if err != nil {
		writeError(w, r, fromError(err))
		return
	}
	req.CampaignID = sessionCampaign(r)

	key := strings.TrimSpace(r.Header.Get(domain.IdempotencyHeader))
	if key == "" || h.guard == nil {
		resp := h.placeOrder(r.Context(), req)
		writeRaw(w, resp.Code, resp.Body)
		return
	}

	body, err := json.Marshal(req)
	if err != nil {
		writeError(w, r, fromError(err))
		return
	}
	scope := http.MethodPost + " " + apiPrefix + "/orders"
	resp, err := h.guard.Execute(r.Context(), key, idempotency.HashRequest(scope, body),
		func(ctx context.Context) idempotency.Response { return h.placeOrder(ctx, req) })
	if err != nil {
		writeError(w, r, fromError(err))
		return
	}
	if resp.Replayed {
		w.Header().Set(ReplayedHeader, "true")
		h.logger.WithField("idempotency_key", key).Debug("create order replayed")
	}
	writeRaw(w, resp.Code, resp.Body)
}

// placeOrder возвращает готовый ответ, чтобы его можно было сохранить под ключом.
func (h *handlers) placeOrder(ctx context.Context, req checkout.Request) idempotency.Response {
	res, err := h.checkout.CreateOrder(ctx, req)
	if err != nil {
		e := fromError(err)
		return idempotency.Response{Code: e.Status, Body: e.encode(ctx), Failed: true}
	}
	out := view.FromOrder(res.Order)
	out.Conversion = view.FromConversion(res.Conversion)
	body, err := json.Marshal(orderEnvelope{Order: out})
	if err != nil {
		e := fromError(err)
		return idempotency.Response{Code: e.Status, Body: e.encode(ctx), Failed: true}
	}
	return idempotency.Response{Code: http.StatusCreated, Body: body, OrderUID: res.Order.UID}
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	details, err := h.orders.Get(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderEnvelope{Order: view.FromDetails(details)})
}

func (h *handlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeOptionalJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondOrder(w, r)(h.orders.Cancel(r.Context(), chi.URLParam(r, "uid"), body.Reason))
}

func (h *handlers) markPaid(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PaymentReference string `json:"payment_reference"`
	}
	if err := decodeOptionalJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondOrder(w, r)(h.orders.MarkPaid(r.Context(), chi.URLParam(r, "uid"), body.PaymentReference))
}

func (h *handlers) markShipped(w http.ResponseWriter, r *http.Request) {
	h.respondOrder(w, r)(h.orders.MarkShipped(r.Context(), chi.URLParam(r, "uid")))
}

func (h *handlers) addItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID  int64  `json:"product_id"`
		Quantity   int    `json:"quantity"`
		PriceMinor *int64 `json:"price_minor"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondOrder(w, r)(h.orders.AddItem(r.Context(), chi.URLParam(r, "uid"), orderitem.CreateParams{
		ProductID:  body.ProductID,
		Quantity:   body.Quantity,
		PriceMinor: body.PriceMinor,
	}))
}

func (h *handlers) mutateItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body struct {
		Quantity  *int   `json:"quantity"`
		ProductID *int64 `json:"product_id"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondOrder(w, r)(h.orders.MutateItem(r.Context(), chi.URLParam(r, "uid"), itemID, orderitem.UpdateParams{
		Quantity:  body.Quantity,
		ProductID: body.ProductID,
	}))
}

func (h *handlers) removeItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondOrder(w, r)(h.orders.RemoveItem(r.Context(), chi.URLParam(r, "uid"), itemID))
}

func (h *handlers) shipItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondOrder(w, r)(h.orders.ShipItem(r.Context(), chi.URLParam(r, "uid"), itemID, body.Quantity))
}

// listAvailableProducts — витрина: только товары в продаже.
func (h *handlers) listAvailableProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	available := products[:0:0]
	for _, p := range products {
		if p.Active {
			available = append(available, p)
		}
	}
	writeJSON(w, http.StatusOK, productsEnvelope{Products: view.FromProducts(available)})
}

func (h *handlers) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productsEnvelope{Products: view.FromProducts(products)})
}

func (h *handlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SKU        string `json:"sku"`
		Name       string `json:"name"`
		PriceMinor int64  `json:"price_minor"`
		Stock      int    `json:"stock"`
		Active     *bool  `json:"active"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	active := body.Active == nil || *body.Active
	product, err := h.catalog.CreateProduct(r.Context(), catalog.CreateParams{
		SKU:        body.SKU,
		Name:       body.Name,
		PriceMinor: body.PriceMinor,
		Stock:      body.Stock,
		Active:     active,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, productEnvelope{Product: view.FromProduct(product)})
}

func (h *handlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body struct {
		Name       *string `json:"name"`
		PriceMinor *int64  `json:"price_minor"`
		Active     *bool   `json:"active"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondProduct(w, r)(h.catalog.UpdateProduct(r.Context(), id, catalog.UpdateParams{
		Name:       body.Name,
		PriceMinor: body.PriceMinor,
		Active:     body.Active,
	}))
}

func (h *handlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body struct {
		Delta int `json:"delta"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondProduct(w, r)(h.catalog.AdjustStock(r.Context(), id, body.Delta))
}

func (h *handlers) respondOrder(w http.ResponseWriter, r *http.Request) func(domain.Order, error) {
	return func(order domain.Order, err error) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, orderEnvelope{Order: view.FromOrder(order)})
	}
}

func (h *handlers) respondProduct(w http.ResponseWriter, r *http.Request) func(domain.Product, error) {
	return func(product domain.Product, err error) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, productEnvelope{Product: view.FromProduct(product)})
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := fromError(err)
	if e.Status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{"method": r.Method, "path": r.URL.Path}).Error("request failed")
	}
	writeError(w, r, e)
}

func decodeOptionalJSON(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(r.Body, v)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", errMalformed, name)
	}
	return id, nil
}
