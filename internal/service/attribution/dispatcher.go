package attribution

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/metrics"
)

// DefaultNotifyTimeout ограничивает вызов внешней системы атрибуции.
const DefaultNotifyTimeout = 15 * time.Second

// Dispatcher отправляет уведомления о покупках в фоне, после коммита заказа.
// Ошибки только логируются: заказ уже зафиксирован.
type Dispatcher struct {
	notifier domain.ConversionNotifier
	currency string
	timeout  time.Duration
	logger   *log.Entry
	metrics  *metrics.OrderMetrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption настраивает Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout задаёт таймаут одного уведомления.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.OrderMetrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher создаёт диспетчер; notifier=nil отключает уведомления.
func NewDispatcher(notifier domain.ConversionNotifier, currency string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier: notifier,
		currency: currency,
		timeout:  DefaultNotifyTimeout,
		logger:   log.WithField("component", "conversion-dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NotifyPurchase ставит уведомление в фон и сразу возвращается.
func (d *Dispatcher) NotifyPurchase(orderUID string, valueMinor int64) {
	if d == nil || d.notifier == nil {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.WithField("order_uid", orderUID).Warn("conversion notification skipped during shutdown")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	event := domain.PurchaseEvent{
		EventName:  EventCompletePayment,
		OrderUID:   orderUID,
		ValueMinor: valueMinor,
		Currency:   d.currency,
		OccurredAt: time.Now().UTC(),
	}

	go func() {
		defer d.wg.Done()
		d.send(event)
	}()
}

func (d *Dispatcher) send(event domain.PurchaseEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	err := d.notifier.NotifyPurchase(ctx, event)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		d.metrics.RecordNotification(metrics.NotifySent, elapsed)
		d.logger.WithField("order_uid", event.OrderUID).Debug("conversion notification sent")
	case errors.Is(err, ErrNotifierDisabled):
		d.metrics.RecordNotification(metrics.NotifySkipped, elapsed)
	default:
		d.metrics.RecordNotification(metrics.NotifyFailed, elapsed)
		d.logger.WithError(err).WithFields(log.Fields{
			"order_uid": event.OrderUID,
			"elapsed":   elapsed.String(),
		}).Warn("conversion notification failed")
	}
}

// Shutdown ожидает завершения фоновых уведомлений.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
