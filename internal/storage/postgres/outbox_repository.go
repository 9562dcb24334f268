package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

// Состояния строки outbox_messages.
const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

const defaultOutboxBatch = 100

// outboxWriter кладёт событие заказа в outbox внутри транзакции изменения.
type outboxWriter struct {
	q queryer
}

func (w outboxWriter) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := w.q.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, outboxPending, msg.CreatedAt)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for order %s: %w", msg.EventType, msg.AggregateID, mapError(err))
	}
	return msg, nil
}

// outboxQueue — сторона воркера: выборка, статистика и отметки доставки.
type outboxQueue struct {
	outboxWriter
}

// NewOutboxRepository создаёт очередь outbox поверх Store.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return outboxQueue{outboxWriter{q: store.DB()}}
}

// PullPending отдаёт ожидающие события в порядке записи: события одного заказа
// публикуются в том порядке, в котором менялся заказ.
func (o outboxQueue) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := o.q.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`, outboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox: %w", mapError(err))
	}
	defer rows.Close()

	batch := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, msg)
	}
	return batch, rows.Err()
}

// Stats считает backlog и число событий, ушедших в DLQ, одним запросом.
func (o outboxQueue) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := o.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = $1),
		       MIN(created_at) FILTER (WHERE status = $1),
		       COUNT(*) FILTER (WHERE status = $2)
		FROM outbox_messages
	`, outboxPending, outboxFailed).Scan(&stats.PendingCount, &oldest, &stats.FailedCount)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", mapError(err))
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (o outboxQueue) MarkSent(ctx context.Context, id string) error {
	return o.settle(ctx, id, outboxSent)
}

func (o outboxQueue) MarkFailed(ctx context.Context, id string) error {
	return o.settle(ctx, id, outboxFailed)
}

// settle закрывает только ожидающую строку: повторная отметка даёт ErrOutboxPublish.
func (o outboxQueue) settle(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := o.q.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, status, outboxPending)
	if err != nil {
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, mapError(err))
	}
	return expectOne(res, domain.ErrOutboxPublish)
}

var (
	_ domain.OutboxWriter     = outboxWriter{}
	_ domain.OutboxRepository = outboxQueue{}
)
