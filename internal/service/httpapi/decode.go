package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/service/checkout"
)

const maxBodyBytes = 1 << 20

var itemField = regexp.MustCompile(`^items\[(\d+)\]\[(product_id|quantity)\]$`)

// decodeOrderRequest приводит JSON или форму к checkout.Request.
// Форма принимает customer[...] и items[N][...], либо items=1:2,3:1.
func decodeOrderRequest(w http.ResponseWriter, r *http.Request) (checkout.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req checkout.Request
	if isJSON(r.Header.Get("Content-Type")) {
		if err := decodeJSON(r.Body, &req); err != nil {
			return checkout.Request{}, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return checkout.Request{}, fmt.Errorf("%w: %v", errMalformed, err)
		}
		var err error
		if req, err = requestFromForm(r.PostForm); err != nil {
			return checkout.Request{}, err
		}
	}
	// Кампания берётся только из сессии покупателя.
	req.CampaignID = nil
	items, err := mergeLines(req.Items)
	if err != nil {
		return checkout.Request{}, err
	}
	req.Items = items
	return req, nil
}

func decodeJSON(body io.Reader, v any) error {
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func requestFromForm(form url.Values) (checkout.Request, error) {
	req := checkout.Request{
		Customer: checkout.CustomerInput{
			FullName: formValue(form, "customer[full_name]", "full_name"),
			Phone:    formValue(form, "customer[phone]", "phone"),
			Email:    formValue(form, "customer[email]", "email"),
			Address:  formValue(form, "customer[address]", "address"),
		},
		ShippingAddress: form.Get("shipping_address"),
	}

	if literal := strings.TrimSpace(form.Get("items")); literal != "" {
		lines, err := parseItemsLiteral(literal)
		if err != nil {
			return checkout.Request{}, err
		}
		req.Items = lines
		return req, nil
	}

	lines, err := parseBracketItems(form)
	if err != nil {
		return checkout.Request{}, err
	}
	req.Items = lines
	return req, nil
}

func formValue(form url.Values, keys ...string) string {
	for _, k := range keys {
		if v := form.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// parseItemsLiteral разбирает строку вида "1:2,3:1" (товар:количество).
func parseItemsLiteral(literal string) ([]checkout.LineInput, error) {
	var lines []checkout.LineInput
	for _, part := range strings.Split(literal, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pid, qty, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%w: item %q must be product:quantity", errMalformed, part)
		}
		line, err := parseLine(pid, qty)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func parseBracketItems(form url.Values) ([]checkout.LineInput, error) {
	type raw struct{ productID, quantity string }
	byIndex := make(map[int]*raw)
	for key, values := range form {
		m := itemField.FindStringSubmatch(key)
		if m == nil || len(values) == 0 {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: item index %q", errMalformed, m[1])
		}
		entry, ok := byIndex[idx]
		if !ok {
			entry = &raw{}
			byIndex[idx] = entry
		}
		if m[2] == "product_id" {
			entry.productID = values[0]
		} else {
			entry.quantity = values[0]
		}
	}

	indexes := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	lines := make([]checkout.LineInput, 0, len(indexes))
	for _, idx := range indexes {
		line, err := parseLine(byIndex[idx].productID, byIndex[idx].quantity)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func parseLine(productID, quantity string) (checkout.LineInput, error) {
	pid, err := strconv.ParseInt(strings.TrimSpace(productID), 10, 64)
	if err != nil {
		return checkout.LineInput{}, fmt.Errorf("%w: product id %q", errMalformed, productID)
	}
	qty, err := strconv.Atoi(strings.TrimSpace(quantity))
	if err != nil {
		return checkout.LineInput{}, fmt.Errorf("%w: product %d quantity %q", domain.ErrInvalidQuantity, pid, quantity)
	}
	return checkout.LineInput{ProductID: pid, Quantity: qty}, nil
}

// mergeLines складывает количества повторяющихся товаров, сохраняя порядок первого появления.
// Строки с количеством <= 0 не сливаются, их отклонит checkout.
func mergeLines(lines []checkout.LineInput) ([]checkout.LineInput, error) {
	if len(lines) < 2 {
		return lines, nil
	}
	pos := make(map[int64]int, len(lines))
	merged := make([]checkout.LineInput, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			merged = append(merged, line)
			continue
		}
		if i, ok := pos[line.ProductID]; ok {
			sum, err := domain.AddQuantity(merged[i].Quantity, line.Quantity)
			if err != nil {
				return nil, fmt.Errorf("product %d: %w", line.ProductID, err)
			}
			merged[i].Quantity = sum
			continue
		}
		pos[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}
