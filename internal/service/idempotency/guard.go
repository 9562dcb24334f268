package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

// DefaultTTL — сколько хранится ответ по ключу.
const DefaultTTL = 24 * time.Hour

// ErrInProgress — запрос с тем же ключом ещё выполняется.
var ErrInProgress = errors.New("request with the same idempotency key is already processing")

// Response — ответ транспорта, сохраняемый под ключом. Code — HTTP-статус или gRPC-код.
type Response struct {
	Code     int
	Body     []byte
	OrderUID string
	Failed   bool
	// Replayed выставляется, когда ответ взят из хранилища.
	Replayed bool
}

// Guard выполняет обработчик не более одного раза на ключ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт срок хранения ответа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт логгер.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard создаёт Guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    DefaultTTL,
		logger: log.WithField("component", "idempotency"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HashRequest строит отпечаток запроса: область (метод/маршрут) и тело.
func HashRequest(scope string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Execute выполняет fn под ключом key. Повтор с тем же телом получает сохранённый ответ.
// Повтор с другим телом получает domain.ErrIdempotencyHashMismatch, а пока первый вызов
// не завершён, возвращается ErrInProgress.
func (g *Guard) Execute(ctx context.Context, key, hash string, fn func(ctx context.Context) Response) (Response, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Response{}, domain.ErrIdempotencyKeyRequired
	}

	record, err := g.repo.Claim(ctx, key, hash, g.now().Add(g.ttl))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return Response{}, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return replay(record)
	default:
		return Response{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	resp := fn(ctx)
	state := domain.IdempotencyCompleted
	if resp.Failed {
		state = domain.IdempotencyRejected
	}
	outcome := domain.IdempotencyOutcome{Code: resp.Code, Body: resp.Body, OrderUID: resp.OrderUID}
	if finishErr := g.repo.Finish(ctx, key, state, outcome); finishErr != nil {
		g.logger.WithFields(log.Fields{
			"idempotency_key": key,
			"state":           state,
			"order_uid":       resp.OrderUID,
		}).WithError(finishErr).Warn("failed to store idempotent response")
	}
	return resp, nil
}

func replay(record domain.IdempotencyRecord) (Response, error) {
	switch record.State {
	case domain.IdempotencyPending:
		return Response{}, ErrInProgress
	case domain.IdempotencyCompleted, domain.IdempotencyRejected:
		return Response{
			Code:     record.Outcome.Code,
			Body:     record.Outcome.Body,
			OrderUID: record.Outcome.OrderUID,
			Failed:   record.State == domain.IdempotencyRejected,
			Replayed: true,
		}, nil
	default:
		return Response{}, fmt.Errorf("unknown idempotency state %q", record.State)
	}
}
