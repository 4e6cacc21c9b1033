package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts gateway calls.
	// Labels: backend (minio, oss, cos), op (upload, url, delete, ensure), result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vidsight",
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Total number of object storage operations by backend, operation and result",
		},
		[]string{"backend", "op", "result"},
	)

	// OperationDuration tracks how long gateway calls take.
	// Labels: backend, op
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vidsight",
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Duration of object storage operations in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"backend", "op"},
	)
)
