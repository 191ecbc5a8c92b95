package instrument

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "readapi"

// Metrics holds the Prometheus collectors of the API. It implements Recorder.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	FilterRejections    *prometheus.CounterVec
	SerializationErrors *prometheus.CounterVec
	StoreErrors         *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry, alongside the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"entity", "format", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"entity"},
		),
		FilterRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_rejections_total",
				Help:      "Requests rejected for filtering on a non-filterable field",
			},
			[]string{"entity", "field"},
		),
		SerializationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "serialization_errors_total",
				Help:      "Field serialization failures",
			},
			[]string{"entity", "field"},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Failed data source calls",
			},
			[]string{"entity", "backend"},
		),
	}
}

func (m *Metrics) FilterRejected(entity, field string) {
	m.FilterRejections.WithLabelValues(entity, field).Inc()
}

func (m *Metrics) SerializationFailed(entity, field string) {
	m.SerializationErrors.WithLabelValues(entity, field).Inc()
}

func (m *Metrics) StoreFailed(entity, backend string) {
	m.StoreErrors.WithLabelValues(entity, backend).Inc()
}
