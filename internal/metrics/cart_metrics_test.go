package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewCartMetrics(t *testing.T) {
	metrics := NewCartMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics.mutations == nil {
		t.Error("mutations counter vec should not be nil")
	}
	if metrics.persistErrors == nil {
		t.Error("persistErrors counter should not be nil")
	}
	if metrics.loads == nil {
		t.Error("loads counter vec should not be nil")
	}
	if metrics.mutationDuration == nil {
		t.Error("mutationDuration histogram vec should not be nil")
	}
	if metrics.cartItems == nil || metrics.cartUnits == nil {
		t.Error("cart gauges should not be nil")
	}
	if metrics.droppedNotifications == nil {
		t.Error("droppedNotifications counter should not be nil")
	}
}

func TestNewCartMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewCartMetricsWithRegisterer(reg)
	second := NewCartMetricsWithRegisterer(reg)

	first.RecordLoad("restored")
	second.RecordLoad("restored")

	if got := counterValue(t, first.loads.WithLabelValues("restored")); got != 2 {
		t.Errorf("expected shared counter value 2, got %f", got)
	}
}

func TestRecordMutation(t *testing.T) {
	metrics := NewCartMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordMutation("add", "applied", 2*time.Millisecond)
	metrics.RecordMutation("add", "noop", time.Millisecond)
	metrics.RecordMutation("increment", "persist_failed", 10*time.Millisecond)

	if got := counterValue(t, metrics.mutations.WithLabelValues("add", "applied")); got != 1 {
		t.Errorf("expected 1 applied add, got %f", got)
	}
	if got := counterValue(t, metrics.mutations.WithLabelValues("add", "noop")); got != 1 {
		t.Errorf("expected 1 noop add, got %f", got)
	}
	if got := counterValue(t, metrics.persistErrors); got != 1 {
		t.Errorf("expected 1 persist error, got %f", got)
	}

	metric := &dto.Metric{}
	observer := metrics.mutationDuration.WithLabelValues("add")
	if err := observer.(prometheus.Histogram).Write(metric); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("expected 2 samples for add, got %d", metric.Histogram.GetSampleCount())
	}
}

func TestSetCartSize(t *testing.T) {
	metrics := NewCartMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.SetCartSize(3, 7)

	if got := gaugeValue(t, metrics.cartItems); got != 3 {
		t.Errorf("expected 3 items, got %f", got)
	}
	if got := gaugeValue(t, metrics.cartUnits); got != 7 {
		t.Errorf("expected 7 units, got %f", got)
	}
}

func TestRecordDroppedNotification(t *testing.T) {
	metrics := NewCartMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordDroppedNotification()
	metrics.RecordDroppedNotification()

	if got := counterValue(t, metrics.droppedNotifications); got != 2 {
		t.Errorf("expected 2 dropped notifications, got %f", got)
	}
}
