package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

// checkoutKeys хранит ключи повторного оформления в таблице checkout_keys.
// Запросы идут мимо транзакции заказа, поэтому отказ в оформлении тоже фиксируется.
type checkoutKeys struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт хранилище ключей поверх Store.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return checkoutKeys{db: store.DB()}
}

const selectCheckoutKey = `
	SELECT key, request_hash, state, response_code, response_body, COALESCE(order_uid, ''),
	       expires_at, created_at, updated_at
	FROM checkout_keys
	WHERE key = $1`

// Claim вставляет ключ или перезанимает просроченный одним запросом.
// Если строка не вернулась, ключ жив, и вызывающий получает его текущее состояние.
func (r checkoutKeys) Claim(ctx context.Context, key, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(24 * time.Hour)
	}

	rec := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		State:       domain.IdempotencyPending,
		ExpiresAt:   expiresAt,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO checkout_keys (key, request_hash, state, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE
		SET request_hash  = EXCLUDED.request_hash,
		    state         = EXCLUDED.state,
		    response_code = 0,
		    response_body = NULL,
		    order_uid     = NULL,
		    expires_at    = EXCLUDED.expires_at,
		    created_at    = EXCLUDED.created_at,
		    updated_at    = EXCLUDED.updated_at
		WHERE checkout_keys.expires_at <= $5
		RETURNING created_at, updated_at
	`, key, requestHash, string(domain.IdempotencyPending), expiresAt, now).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim checkout key: %w", mapError(err))
	}

	current, err := r.Get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if current.RequestHash != requestHash {
		return current, domain.ErrIdempotencyHashMismatch
	}
	return current, domain.ErrIdempotencyKeyAlreadyExists
}

func (r checkoutKeys) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	if key = strings.TrimSpace(key); key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		rec   domain.IdempotencyRecord
		state string
	)
	err := r.db.QueryRowContext(ctx, selectCheckoutKey, key).Scan(
		&rec.Key,
		&rec.RequestHash,
		&state,
		&rec.Outcome.Code,
		&rec.Outcome.Body,
		&rec.Outcome.OrderUID,
		&rec.ExpiresAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get checkout key: %w", mapError(err))
	}

	rec.State = domain.IdempotencyState(state)
	if !rec.State.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("checkout key %s has unknown state %q", key, state)
	}
	return rec, nil
}

func (r checkoutKeys) Finish(ctx context.Context, key string, state domain.IdempotencyState, outcome domain.IdempotencyOutcome) error {
	if !state.Finished() {
		return fmt.Errorf("idempotency state %q is not final", state)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE checkout_keys
		SET state         = $2,
		    response_code = $3,
		    response_body = $4,
		    order_uid     = NULLIF($5, ''),
		    updated_at    = NOW()
		WHERE key = $1
	`, strings.TrimSpace(key), string(state), outcome.Code, outcome.Body, outcome.OrderUID)
	if err != nil {
		return fmt.Errorf("finish checkout key: %w", mapError(err))
	}
	return expectOne(res, domain.ErrIdempotencyKeyNotFound)
}

// DeleteExpired удаляет не больше limit просроченных ключей; limit <= 0 снимает ограничение.
func (r checkoutKeys) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM checkout_keys
		WHERE key IN (
			SELECT key FROM checkout_keys
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)
	`, before, batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired checkout keys: %w", mapError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.IdempotencyRepository = checkoutKeys{}
