package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CartMetrics содержит метрики хранилища корзины.
type CartMetrics struct {
	// Счётчики операций
	mutations     *prometheus.CounterVec
	persistErrors prometheus.Counter
	loads         *prometheus.CounterVec

	// Время от мутации до подтверждённой записи
	mutationDuration *prometheus.HistogramVec

	// Текущее состояние корзины
	cartItems prometheus.Gauge
	cartUnits prometheus.Gauge

	droppedNotifications prometheus.Counter
}

// NewCartMetrics создаёт метрики в DefaultRegisterer.
func NewCartMetrics() *CartMetrics {
	return NewCartMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCartMetricsWithRegisterer создаёт метрики в заданном registerer; повторная
// регистрация возвращает уже существующие коллекторы.
func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CartMetrics{
		mutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_mutations_total",
			Help: "Total number of cart mutations grouped by operation and outcome",
		}, []string{"op", "outcome"}),
		persistErrors: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_persist_errors_total",
			Help: "Total number of mutations whose snapshot could not be persisted",
		}),
		loads: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_loads_total",
			Help: "Total number of cart loads grouped by result",
		}, []string{"result"}),
		mutationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "cart_mutation_duration_seconds",
			Help:    "Duration of cart mutations including persistence",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"op"}),
		cartItems: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "cart_items",
			Help: "Number of distinct line items in the cart",
		}),
		cartUnits: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "cart_units",
			Help: "Sum of quantities over all cart line items",
		}),
		droppedNotifications: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_dropped_notifications_total",
			Help: "Total number of change notifications replaced before a slow subscriber read them",
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

// RecordMutation учитывает мутацию: outcome = applied | noop | persist_failed.
func (m *CartMetrics) RecordMutation(op, outcome string, duration time.Duration) {
	m.mutations.WithLabelValues(op, outcome).Inc()
	m.mutationDuration.WithLabelValues(op).Observe(duration.Seconds())
	if outcome == "persist_failed" {
		m.persistErrors.Inc()
	}
}

// RecordLoad учитывает загрузку: result = restored | empty | malformed | failed.
func (m *CartMetrics) RecordLoad(result string) {
	m.loads.WithLabelValues(result).Inc()
}

// SetCartSize обновляет размер корзины.
func (m *CartMetrics) SetCartSize(items, units int) {
	m.cartItems.Set(float64(items))
	m.cartUnits.Set(float64(units))
}

// RecordDroppedNotification увеличивает счётчик вытесненных уведомлений.
func (m *CartMetrics) RecordDroppedNotification() {
	m.droppedNotifications.Inc()
}
