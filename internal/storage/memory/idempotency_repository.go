package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

const defaultKeyLifetime = 24 * time.Hour

// IdempotencyKeys живёт отдельно от Store: ключ переживает откат транзакции заказа.
type IdempotencyKeys struct {
	mu   sync.Mutex
	keys map[string]domain.IdempotencyRecord
	now  func() time.Time
}

// NewIdempotencyRepository создаёт хранилище ключей в памяти.
func NewIdempotencyRepository() *IdempotencyKeys {
	return &IdempotencyKeys{
		keys: make(map[string]domain.IdempotencyRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Claim занимает ключ; просроченный ключ перезанимается без участия cleanup-воркера.
func (k *IdempotencyKeys) Claim(_ context.Context, key, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if current, ok := k.keys[key]; ok && !current.Expired(now) {
		if current.RequestHash != requestHash {
			return current.Clone(), domain.ErrIdempotencyHashMismatch
		}
		return current.Clone(), domain.ErrIdempotencyKeyAlreadyExists
	}
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultKeyLifetime)
	}

	rec := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		State:       domain.IdempotencyPending,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	k.keys[key] = rec
	return rec, nil
}

func (k *IdempotencyKeys) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	if key = strings.TrimSpace(key); key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	rec, ok := k.keys[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return rec.Clone(), nil
}

func (k *IdempotencyKeys) Finish(_ context.Context, key string, state domain.IdempotencyState, outcome domain.IdempotencyOutcome) error {
	if !state.Finished() {
		return fmt.Errorf("idempotency state %q is not final", state)
	}
	key = strings.TrimSpace(key)

	k.mu.Lock()
	defer k.mu.Unlock()

	rec, ok := k.keys[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	rec.State = state
	rec.Outcome = outcome
	rec.UpdatedAt = k.now()
	k.keys[key] = rec.Clone()
	return nil
}

// DeleteExpired удаляет ключи, истёкшие к before, начиная с самых старых.
func (k *IdempotencyKeys) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if before.IsZero() {
		before = k.now()
	}
	expired := make([]domain.IdempotencyRecord, 0)
	for _, rec := range k.keys {
		if rec.Expired(before) {
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, rec := range expired {
		delete(k.keys, rec.Key)
	}
	return len(expired), nil
}

var _ domain.IdempotencyRepository = (*IdempotencyKeys)(nil)
