package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

type timelineWriter struct{ tx *memTx }

// Append добавляет событие в историю заказа.
func (w timelineWriter) Append(_ context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = w.tx.now()
	}
	events := append(w.tx.st.timeline[event.OrderID], event)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Occurred.Before(events[j].Occurred) })
	w.tx.st.timeline[event.OrderID] = events
	return nil
}

// timelineRepositoryInMemory читает историю из текущего состояния Store.
type timelineRepositoryInMemory struct {
	store *Store
}

// Timeline возвращает репозиторий истории заказов.
func (s *Store) Timeline() domain.TimelineRepository {
	return &timelineRepositoryInMemory{store: s}
}

func (r *timelineRepositoryInMemory) Append(ctx context.Context, event domain.TimelineEvent) error {
	return r.store.update(func(st *state) error {
		return timelineWriter{tx: &memTx{st: st, now: r.store.now}}.Append(ctx, event)
	})
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepositoryInMemory) List(_ context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	var result []domain.TimelineEvent
	r.store.read(func(st *state) {
		result = append([]domain.TimelineEvent(nil), st.timeline[orderID]...)
	})
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
