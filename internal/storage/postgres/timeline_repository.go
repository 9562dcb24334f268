package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
)

// timelineWriter пишет историю в той же транзакции, что и изменение заказа.
type timelineWriter struct {
	q queryer
}

func (w timelineWriter) Append(ctx context.Context, ev domain.TimelineEvent) error {
	if ev.Occurred.IsZero() {
		ev.Occurred = time.Now().UTC()
	}
	_, err := w.q.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, reason, status, total_minor, occurred)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.OrderID, ev.Type, ev.Reason, string(ev.Status), ev.TotalMinor, ev.Occurred)
	if err != nil {
		return fmt.Errorf("append %s to order %d history: %w", ev.Type, ev.OrderID, mapError(err))
	}
	return nil
}

// orderHistory читает историю вне транзакций.
type orderHistory struct {
	timelineWriter
}

// NewTimelineRepository создаёт историю заказов поверх Store.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return orderHistory{timelineWriter{q: store.DB()}}
}

func (h orderHistory) List(ctx context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := h.q.QueryContext(ctx, `
		SELECT type, reason, status, total_minor, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order %d history: %w", orderID, mapError(err))
	}
	defer rows.Close()

	var history []domain.TimelineEvent
	for rows.Next() {
		ev := domain.TimelineEvent{OrderID: orderID}
		var status string
		if err := rows.Scan(&ev.Type, &ev.Reason, &status, &ev.TotalMinor, &ev.Occurred); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		ev.Status = domain.OrderStatus(status)
		history = append(history, ev)
	}
	return history, rows.Err()
}

var _ domain.TimelineRepository = orderHistory{}
