package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scholardoc_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scholardoc_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ocrRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scholardoc_ocr_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"status"}, // status: success, error
	)

	ocrRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scholardoc_ocr_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
	)

	ocrFilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scholardoc_ocr_files_processed_total",
			Help: "Total number of files processed",
		},
		[]string{"status"}, // status: success, failed
	)

	ocrPagesFlagged = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scholardoc_ocr_pages_flagged",
			Help:    "Pages per file still flagged after the run",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scholardoc_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, data
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scholardoc_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 200 * 1024 * 1024},
		},
	)

	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scholardoc_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scholardoc_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"type"}, // type: phase, progress, model, dropped
	)
)
