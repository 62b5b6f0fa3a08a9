package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus registry and the share store meters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	BytesProcessed    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
}

// NewMetrics creates a custom Prometheus registry with the shares metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shares_operation_duration_seconds",
		Help:    "Duration of share store operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shares_operation_total",
		Help: "Total number of share store operations.",
	}, []string{"operation", "status"})

	bytesProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shares_bytes_processed_total",
		Help: "Total container bytes written and read.",
	}, []string{"direction"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shares_errors_total",
		Help: "Total number of errors by kind.",
	}, []string{"operation", "kind"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shares_http_requests_total",
		Help: "Total HTTP requests by route and status code.",
	}, []string{"route", "code"})

	reg.MustRegister(opDuration, opTotal, bytesProcessed, errorsTotal, httpRequests)

	return &Metrics{
		Registry:          reg,
		OperationDuration: opDuration,
		OperationTotal:    opTotal,
		BytesProcessed:    bytesProcessed,
		ErrorsTotal:       errorsTotal,
		HTTPRequests:      httpRequests,
	}
}

// AddBytes counts n bytes moving in direction ("in" or "out").
func (m *Metrics) AddBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.BytesProcessed.WithLabelValues(direction).Add(float64(n))
}

// RecordError counts an error of the given kind for operation.
func (m *Metrics) RecordError(operation, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(operation, kind).Inc()
}
