package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	idempotencyHeader = "Idempotency-Key"
	codeOutOfStock    = "insufficient_stock"
)

// outcome — результат одного HTTP-вызова.
type outcome struct {
	status int
	code   string
	err    error
}

func (o outcome) String() string {
	switch {
	case o.err != nil:
		return "transport_error"
	case o.code != "":
		return o.code
	default:
		return strconv.Itoa(o.status)
	}
}

func (o outcome) outOfStock() bool {
	return o.code == codeOutOfStock
}

// failed — сбой, а не ожидаемый отказ по остатку.
func (o outcome) failed() bool {
	if o.err != nil {
		return true
	}
	return o.status >= http.StatusBadRequest && !o.outOfStock()
}

type apiClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

func newAPIClient(base string, httpClient *http.Client, timeout time.Duration) *apiClient {
	return &apiClient{
		base:    strings.TrimRight(base, "/"),
		http:    httpClient,
		timeout: timeout,
	}
}

type orderLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type orderCustomer struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Address  string `json:"address,omitempty"`
}

type orderRequest struct {
	Customer orderCustomer `json:"customer"`
	Items    []orderLine   `json:"items"`
}

type productPayload struct {
	ID    int64  `json:"id"`
	SKU   string `json:"sku"`
	Stock int    `json:"stock"`
}

type errorPayload struct {
	Code string `json:"error"`
}

// do выполняет запрос и раскладывает ответ в out при 2xx.
func (c *apiClient) do(ctx context.Context, method, path string, header http.Header, body, out any) outcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return outcome{err: err}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return outcome{err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range header {
		req.Header[key] = values
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return outcome{err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return outcome{status: resp.StatusCode, err: err}
	}

	res := outcome{status: resp.StatusCode}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorPayload
		if json.Unmarshal(payload, &apiErr) == nil {
			res.code = apiErr.Code
		}
		return res
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			res.err = fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return res
}

func (c *apiClient) createOrder(ctx context.Context, req orderRequest, key string) (string, outcome) {
	var out struct {
		Order struct {
			UID string `json:"uid"`
		} `json:"order"`
	}
	header := http.Header{}
	header.Set(idempotencyHeader, key)
	res := c.do(ctx, http.MethodPost, "/api/v1/orders", header, req, &out)
	return out.Order.UID, res
}

func (c *apiClient) payOrder(ctx context.Context, uid, reference string) outcome {
	body := map[string]string{"payment_reference": reference}
	return c.do(ctx, http.MethodPost, "/api/v1/admin/orders/"+uid+"/pay", nil, body, nil)
}

func (c *apiClient) cancelOrder(ctx context.Context, uid string) outcome {
	body := map[string]string{"reason": "load-cancel"}
	return c.do(ctx, http.MethodPost, "/api/v1/orders/"+uid+"/cancel", nil, body, nil)
}

func (c *apiClient) createProduct(ctx context.Context, sku string, priceMinor int64, stock int) (productPayload, error) {
	body := map[string]any{
		"sku":         sku,
		"name":        "Load test " + sku,
		"price_minor": priceMinor,
		"stock":       stock,
	}
	var out struct {
		Product productPayload `json:"product"`
	}
	res := c.do(ctx, http.MethodPost, "/api/v1/admin/products", nil, body, &out)
	if res.failed() {
		return productPayload{}, fmt.Errorf("create product %s: %s", sku, res)
	}
	return out.Product, nil
}

func (c *apiClient) productStock(ctx context.Context, id int64) (int, error) {
	var out struct {
		Products []productPayload `json:"products"`
	}
	res := c.do(ctx, http.MethodGet, "/api/v1/admin/products", nil, nil, &out)
	if res.failed() {
		return 0, fmt.Errorf("list products: %s", res)
	}
	for _, p := range out.Products {
		if p.ID == id {
			return p.Stock, nil
		}
	}
	return 0, fmt.Errorf("product %d not found", id)
}
