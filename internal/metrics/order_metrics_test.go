package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewOrderMetricsWithRegisterer(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	if m.ordersCreated == nil || m.rejections == nil || m.stockUnits == nil || m.txDuration == nil {
		t.Fatal("collectors must be initialised")
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	first.RecordOrderCreated()
	second.RecordOrderCreated()

	if got := testutil.ToFloat64(first.ordersCreated); got != 2 {
		t.Fatalf("expected shared counter value 2, got %f", got)
	}
}

func TestRecordStockUnits(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordDeducted(3)
	m.RecordDeducted(0)
	m.RecordRestocked(2)

	if got := testutil.ToFloat64(m.stockUnits.WithLabelValues("deduct")); got != 3 {
		t.Errorf("deduct units = %f, want 3", got)
	}
	if got := testutil.ToFloat64(m.stockUnits.WithLabelValues("restock")); got != 2 {
		t.Errorf("restock units = %f, want 2", got)
	}
}

func TestRecordRejection(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordRejection("create_order", ReasonInsufficientStock)
	m.RecordRejection("create_order", ReasonInsufficientStock)
	m.RecordRejection("cancel_order", ReasonInvalidTransition)

	if got := testutil.ToFloat64(m.rejections.WithLabelValues("create_order", ReasonInsufficientStock)); got != 2 {
		t.Errorf("rejections = %f, want 2", got)
	}
	if got := testutil.CollectAndCount(m.rejections); got != 2 {
		t.Errorf("label series = %d, want 2", got)
	}
}

func TestTxStartedTracksInFlight(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	done := m.TxStarted("create_order")

	gauge := &dto.Metric{}
	if err := m.inFlight.Write(gauge); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gauge.Gauge.GetValue() != 1 {
		t.Fatalf("in flight = %f, want 1", gauge.Gauge.GetValue())
	}

	done()

	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("in flight after done = %f, want 0", got)
	}
	if got := testutil.CollectAndCount(m.txDuration); got != 1 {
		t.Fatalf("expected one histogram series, got %d", got)
	}
}

func TestRecordNotification(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordNotification(NotifySent, 20*time.Millisecond)
	m.RecordNotification(NotifySkipped, 0)
	m.RecordNotification(NotifyFailed, time.Second)

	if got := testutil.ToFloat64(m.notifications.WithLabelValues(NotifyFailed)); got != 1 {
		t.Errorf("failed notifications = %f, want 1", got)
	}

	hist := &dto.Metric{}
	if err := m.notifyDuration.Write(hist); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if hist.Histogram.GetSampleCount() != 2 {
		t.Errorf("skipped notifications must not be observed, samples=%d", hist.Histogram.GetSampleCount())
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *OrderMetrics

	m.RecordOrderCreated()
	m.RecordOrderCancelled()
	m.RecordRejection("op", ReasonInternal)
	m.RecordTransition("paid")
	m.RecordItemMutation("create")
	m.RecordDeducted(1)
	m.RecordRestocked(1)
	m.RecordNotification(NotifySent, time.Millisecond)
	m.RecordOutboxEvent()
	m.TxStarted("op")()
}
