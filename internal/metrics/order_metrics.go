package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины отказа в операциях с заказами (label reason).
const (
	ReasonValidation        = "validation"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonInvalidTransition = "invalid_transition"
	ReasonConflict          = "conflict"
	ReasonNotFound          = "not_found"
	ReasonInternal          = "internal"
)

// Результаты уведомления внешней системы атрибуции (label result).
const (
	NotifySent    = "sent"
	NotifySkipped = "skipped"
	NotifyFailed  = "failed"
)

// OrderMetrics содержит метрики заказов и складского учёта.
// Все методы безопасны для nil-получателя.
type OrderMetrics struct {
	ordersCreated   prometheus.Counter
	ordersCancelled prometheus.Counter
	rejections      *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	itemMutations   *prometheus.CounterVec

	// Единицы товара, списанные и возвращённые на склад.
	stockUnits *prometheus.CounterVec

	txDuration *prometheus.HistogramVec

	notifications  *prometheus.CounterVec
	notifyDuration prometheus.Histogram

	outboxEvents prometheus.Counter

	inFlight prometheus.Gauge
}

// NewOrderMetrics регистрирует метрики в default registry.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer нужен тестам с изолированным реестром.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "eshop_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "eshop_orders_cancelled_total",
			Help: "Total number of orders cancelled with restock",
		}),
		rejections: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "eshop_order_rejections_total",
			Help: "Rejected order operations by operation and reason",
		}, []string{"operation", "reason"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "eshop_order_transitions_total",
			Help: "Order status transitions by target status",
		}, []string{"status"}),
		itemMutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "eshop_order_item_mutations_total",
			Help: "Order item lifecycle operations",
		}, []string{"op"}),
		stockUnits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "eshop_stock_units_total",
			Help: "Stock units moved by the inventory ledger",
		}, []string{"direction"}),
		txDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "eshop_order_tx_duration_seconds",
			Help:    "Duration of order transactions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "eshop_conversion_notifications_total",
			Help: "Conversion notifications sent to the attribution collaborator",
		}, []string{"result"}),
		notifyDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "eshop_conversion_notify_duration_seconds",
			Help:    "Duration of conversion notification calls",
			Buckets: prometheus.DefBuckets,
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "eshop_outbox_events_enqueued_total",
			Help: "Total number of events written to the outbox",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "eshop_order_operations_in_flight",
			Help: "Number of order transactions currently running",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *OrderMetrics) RecordOrderCancelled() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

// RecordRejection считает отказ операции с указанной причиной.
func (m *OrderMetrics) RecordRejection(operation, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
}

// RecordTransition считает переход заказа в статус.
func (m *OrderMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// RecordItemMutation считает операции над позициями (create/update/delete/ship).
func (m *OrderMetrics) RecordItemMutation(op string) {
	if m == nil {
		return
	}
	m.itemMutations.WithLabelValues(op).Inc()
}

// RecordDeducted добавляет списанные единицы.
func (m *OrderMetrics) RecordDeducted(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.stockUnits.WithLabelValues("deduct").Add(float64(units))
}

// RecordRestocked добавляет возвращённые единицы.
func (m *OrderMetrics) RecordRestocked(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.stockUnits.WithLabelValues("restock").Add(float64(units))
}

// TxStarted отмечает начало транзакции и возвращает функцию завершения.
func (m *OrderMetrics) TxStarted(operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func() {
		m.inFlight.Dec()
		m.txDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// RecordNotification фиксирует результат и длительность уведомления.
func (m *OrderMetrics) RecordNotification(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
	if result != NotifySkipped {
		m.notifyDuration.Observe(duration.Seconds())
	}
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
