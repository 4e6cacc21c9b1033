package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	windowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidsight",
		Subsystem: "pipeline",
		Name:      "windows_total",
		Help:      "Windows processed by analysis mode and result.",
	}, []string{"mode", "result"})

	windowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vidsight",
		Subsystem: "pipeline",
		Name:      "window_seconds",
		Help:      "Wall time to extract, upload, analyze and persist one window.",
		Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"mode"})

	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidsight",
		Subsystem: "pipeline",
		Name:      "sessions_finished_total",
		Help:      "Sessions that reached a terminal status.",
	}, []string{"status"})

	masterLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vidsight",
		Subsystem: "pipeline",
		Name:      "master_length_seconds",
		Help:      "Probed master video length after each folded chunk.",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vidsight",
		Subsystem: "pipeline",
		Name:      "queue_depth",
		Help:      "Chunk jobs accepted but not yet finished.",
	})

	submitRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidsight",
		Subsystem: "pipeline",
		Name:      "submit_rejected_total",
		Help:      "Chunk submissions rejected by reason.",
	}, []string{"reason"})
)
