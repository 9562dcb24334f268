package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

func enqueue(st *state, msg domain.OutboxMessage, now time.Time) domain.OutboxMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = now
	st.outboxSeq++
	st.outbox[msg.ID] = outboxRecord{
		msg:       msg,
		seq:       st.outboxSeq,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}
	return msg
}

type outboxWriter struct{ tx *memTx }

// Enqueue сохраняет событие со статусом `pending` в рамках транзакции.
func (w outboxWriter) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return enqueue(w.tx.st, msg, w.tx.now()), nil
}

// outboxRepositoryInMemory — доступ воркера к outbox поверх Store.
type outboxRepositoryInMemory struct {
	store *Store
}

// Outbox возвращает репозиторий outbox для воркера публикации.
func (s *Store) Outbox() domain.OutboxRepository {
	return &outboxRepositoryInMemory{store: s}
}

func (r *outboxRepositoryInMemory) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	var saved domain.OutboxMessage
	err := r.store.update(func(st *state) error {
		saved = enqueue(st, msg, r.store.now())
		return nil
	})
	return saved, err
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке создания.
func (r *outboxRepositoryInMemory) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []outboxRecord
	r.store.read(func(st *state) {
		for _, rec := range st.outbox {
			if rec.status == outboxStatusPending {
				records = append(records, rec)
			}
		}
	})
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })

	if len(records) > limit {
		records = records[:limit]
	}
	result := make([]domain.OutboxMessage, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats возвращает размер backlog и возраст самого старого сообщения.
func (r *outboxRepositoryInMemory) Stats(context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	r.store.read(func(st *state) {
		for _, rec := range st.outbox {
			if rec.status == outboxStatusFailed {
				stats.FailedCount++
			}
			if rec.status != outboxStatusPending {
				continue
			}
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.createdAt
			}
		}
	})
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepositoryInMemory) MarkSent(_ context.Context, id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepositoryInMemory) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, outboxStatusFailed)
}

func (r *outboxRepositoryInMemory) mark(id, status string) error {
	return r.store.update(func(st *state) error {
		record, ok := st.outbox[id]
		if !ok || record.status != outboxStatusPending {
			return domain.ErrOutboxPublish
		}
		record.status = status
		record.attemptCnt++
		record.updatedAt = r.store.now()
		st.outbox[id] = record
		return nil
	})
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
