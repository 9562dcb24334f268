package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/service/idempotency"
)

var errMalformed = errors.New("malformed request")

// apiError — JSON-конверт ошибки.
type apiError struct {
	Code    string         `json:"error"`
	Message string         `json:"message"`
	Status  int            `json:"status"`
	Request string         `json:"request_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func newAPIError(code, message string, status int) apiError {
	return apiError{Code: code, Message: sanitize(message), Status: status}
}

// fromError переводит доменную ошибку в HTTP-ответ.
func fromError(err error) apiError {
	var stock *domain.StockError
	switch {
	case errors.As(err, &stock):
		e := newAPIError("insufficient_stock", err.Error(), http.StatusConflict)
		e.Details = map[string]any{
			"product_id": stock.ProductID,
			"requested":  stock.Requested,
			"available":  stock.Available,
		}
		return e
	case errors.Is(err, domain.ErrProductNotFound):
		return newAPIError("product_not_found", err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, errMalformed):
		return newAPIError("bad_request", err.Error(), http.StatusBadRequest)
	case domain.IsValidation(err):
		return newAPIError("validation_failed", err.Error(), http.StatusBadRequest)
	case domain.IsNotFound(err):
		return newAPIError("not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrOrderImmutable):
		return newAPIError("invalid_state", err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrSKUConflict):
		return newAPIError("sku_conflict", err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return newAPIError("idempotency_mismatch", err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, idempotency.ErrInProgress):
		return newAPIError("idempotency_in_progress", err.Error(), http.StatusConflict)
	case domain.IsRetryable(err):
		return newAPIError("conflict_retry", "concurrent update, retry the request", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError("timeout", "request timed out", http.StatusGatewayTimeout)
	default:
		return newAPIError("internal", "internal error", http.StatusInternalServerError)
	}
}

func (e apiError) encode(ctx context.Context) []byte {
	if e.Request == "" {
		e.Request = middleware.GetReqID(ctx)
	}
	body, _ := json.Marshal(e)
	return body
}

func writeError(w http.ResponseWriter, r *http.Request, e apiError) {
	writeRaw(w, e.Status, e.encode(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func sanitize(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	v = strings.TrimSpace(v)
	if len(v) > 512 {
		v = v[:512]
	}
	return v
}
