package attribution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

const (
	// DefaultTikTokEndpoint — базовый адрес TikTok Business API.
	DefaultTikTokEndpoint = "https://business-api.tiktok.com/open_api"
	// EventCompletePayment — событие завершённой покупки.
	EventCompletePayment = "CompletePayment"

	trackPath = "/v1.3/pixel/track/"
)

// ErrNotifierDisabled — пиксель не настроен, событие не отправляется.
var ErrNotifierDisabled = errors.New("conversion notifier disabled")

// TikTokConfig параметры клиента Events API.
type TikTokConfig struct {
	Endpoint    string
	PixelCode   string
	AccessToken string
	HTTPClient  *http.Client
}

// TikTokNotifier отправляет события покупки в TikTok Events API.
type TikTokNotifier struct {
	endpoint    string
	pixelCode   string
	accessToken string
	client      *http.Client

	entropyMu sync.Mutex
	entropy   io.Reader
}

// NewTikTokNotifier создаёт клиент; пустой PixelCode отключает отправку.
func NewTikTokNotifier(cfg TikTokConfig) *TikTokNotifier {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultTikTokEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &TikTokNotifier{
		endpoint:    endpoint,
		pixelCode:   strings.TrimSpace(cfg.PixelCode),
		accessToken: cfg.AccessToken,
		client:      client,
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

type trackProperties struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
	OrderID  string  `json:"order_id"`
}

type trackRequest struct {
	PixelCode  string          `json:"pixel_code"`
	Event      string          `json:"event"`
	EventID    string          `json:"event_id"`
	Timestamp  string          `json:"timestamp"`
	Properties trackProperties `json:"properties"`
}

type trackResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NotifyPurchase отправляет событие. Ошибки оборачиваются в domain.ErrExternalService.
func (n *TikTokNotifier) NotifyPurchase(ctx context.Context, event domain.PurchaseEvent) error {
	if n.pixelCode == "" {
		return ErrNotifierDisabled
	}

	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	name := event.EventName
	if name == "" {
		name = EventCompletePayment
	}

	body, err := json.Marshal(trackRequest{
		PixelCode: n.pixelCode,
		Event:     name,
		EventID:   n.newEventID(occurred),
		Timestamp: occurred.UTC().Format(time.RFC3339),
		Properties: trackProperties{
			Value:    float64(event.ValueMinor) / 100,
			Currency: event.Currency,
			OrderID:  event.OrderUID,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: encode event: %v", domain.ErrExternalService, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+trackPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrExternalService, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Access-Token", n.accessToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: tiktok responded %d", domain.ErrExternalService, resp.StatusCode)
	}

	var decoded trackResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&decoded); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode response: %v", domain.ErrExternalService, err)
	}
	if decoded.Code != 0 {
		return fmt.Errorf("%w: tiktok code %d: %s", domain.ErrExternalService, decoded.Code, decoded.Message)
	}
	return nil
}

func (n *TikTokNotifier) newEventID(at time.Time) string {
	n.entropyMu.Lock()
	defer n.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), n.entropy).String()
}

var _ domain.ConversionNotifier = (*TikTokNotifier)(nil)
