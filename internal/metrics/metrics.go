package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartdrop",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chartdrop",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	SlotsIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartdrop",
			Subsystem: "records",
			Name:      "slots_issued_total",
			Help:      "Transfer slots issued",
		},
		[]string{"category"},
	)

	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartdrop",
			Subsystem: "records",
			Name:      "confirmations_total",
			Help:      "Confirm attempts by result",
		},
		[]string{"category", "status"},
	)

	RegisteredBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartdrop",
			Subsystem: "records",
			Name:      "registered_bytes_total",
			Help:      "Bytes of registered clinical files",
		},
		[]string{"category"},
	)

	DeletionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chartdrop",
			Subsystem: "records",
			Name:      "deletions_total",
			Help:      "Deleted clinical file records",
		},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartdrop",
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Object store operations",
		},
		[]string{"operation", "status"},
	)

	StorageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chartdrop",
			Subsystem: "storage",
			Name:      "duration_seconds",
			Help:      "Object store operation duration in seconds",
			Buckets:   []float64{0.005, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartdrop",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Background jobs by type and result",
		},
		[]string{"type", "status"},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordSlot records an issued transfer slot
func RecordSlot(category string) {
	SlotsIssuedTotal.WithLabelValues(category).Inc()
}

// RecordConfirm records a confirm attempt; bytes count only on success.
func RecordConfirm(category, status string, bytes int64) {
	ConfirmationsTotal.WithLabelValues(category, status).Inc()
	if status == "success" {
		RegisteredBytesTotal.WithLabelValues(category).Add(float64(bytes))
	}
}

// RecordDelete records a deleted record
func RecordDelete() {
	DeletionsTotal.Inc()
}

// RecordStorageOperation records an object store call
func RecordStorageOperation(operation, status string, durationSec float64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageDuration.WithLabelValues(operation).Observe(durationSec)
}

// RecordJob records a finished background job
func RecordJob(taskType, status string) {
	JobsTotal.WithLabelValues(taskType, status).Inc()
}

// Status maps an error to the label used by the Record helpers.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
