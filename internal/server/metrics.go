package server

import (
	"github.com/MeKo-Tech/kappi/internal/mempool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kappi_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kappi_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Classification metrics
	classificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kappi_classifications_total",
			Help: "Classifications by source and outcome",
		},
		[]string{"source", "outcome"}, // source: http, websocket; outcome: disease, reason or error code
	)

	classificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kappi_classification_duration_seconds",
			Help:    "Classification pipeline duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"source"},
	)

	classificationConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kappi_classification_confidence_percent",
			Help:    "Confidence of accepted classifications",
			Buckets: []float64{60, 65, 70, 75, 80, 85, 90, 95},
		},
	)

	scansSavedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kappi_scans_saved_total",
			Help: "Total number of saved scans",
		},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kappi_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // minute, hour, requests, data
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kappi_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{10 * 1024, 100 * 1024, 512 * 1024, 1024 * 1024, 5 * 1024 * 1024, 20 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kappi_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kappi_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // sent, received
	)

	// Tensor buffer pool
	_ = promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "kappi_tensor_pool_gets_total",
			Help: "Tensor buffers handed out by the pool",
		},
		func() float64 { return float64(mempool.Snapshot().Gets) },
	)

	_ = promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "kappi_tensor_pool_misses_total",
			Help: "Tensor buffers that had to be allocated",
		},
		func() float64 { return float64(mempool.Snapshot().Misses) },
	)
)
