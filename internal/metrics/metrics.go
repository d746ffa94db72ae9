package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal counts /v1/analyze outcomes; outcome is "success" or an error kind.
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "c0r",
			Subsystem: "analyze_api",
			Name:      "analyses_total",
			Help:      "Total photo analyses by outcome",
		},
		[]string{"outcome"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "c0r",
			Subsystem: "analyze_api",
			Name:      "step_duration_seconds",
			Help:      "Duration of each analysis step in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"step"},
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "c0r",
			Subsystem: "analyze_api",
			Name:      "upload_bytes_total",
			Help:      "Total photo bytes written to object storage",
		},
		[]string{"content_type"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "c0r",
			Subsystem: "analyze_api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
)
