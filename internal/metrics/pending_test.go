package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPendingRecordsOnlyOnCommit(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())
	deducted := m.stockUnits.WithLabelValues("deduct")

	// Откатившаяся попытка.
	ctx, _ := WithPending(context.Background())
	Defer(ctx, func() { m.RecordDeducted(5) })

	ctx, pending := WithPending(context.Background())
	Defer(ctx, func() { m.RecordDeducted(2) })
	if got := testutil.ToFloat64(deducted); got != 0 {
		t.Fatalf("expected nothing recorded before commit, got %f", got)
	}

	pending.Commit()
	pending.Commit()
	if got := testutil.ToFloat64(deducted); got != 2 {
		t.Fatalf("expected 2 deducted units after commit, got %f", got)
	}
}

func TestDeferWithoutPendingRecordsImmediately(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	Defer(context.Background(), func() { m.RecordItemMutation("create") })

	if got := testutil.ToFloat64(m.itemMutations.WithLabelValues("create")); got != 1 {
		t.Fatalf("expected immediate record, got %f", got)
	}
	var nilPending *Pending
	nilPending.Commit()
}
