// Package metrics exposes the pipeline's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesProcessed counts settled page jobs by terminal status
	// (completed, failed, skipped).
	PagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdf_pages_processed_total",
			Help: "Total number of page extraction jobs settled, by outcome.",
		},
		[]string{"status"},
	)

	RecipesExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pdf_recipes_extracted_total",
			Help: "Total number of recipes persisted from PDF pages.",
		},
	)

	// VisionLatency tracks one model round trip, labeled by extraction
	// path (text_layer or vision).
	VisionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdf_vision_request_duration_seconds",
			Help:    "Duration of vision backend extraction calls.",
			Buckets: []float64{1, 5, 10, 15, 30, 60, 120},
		},
		[]string{"path"},
	)

	RenderLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdf_page_render_duration_seconds",
			Help:    "Duration of page rasterization.",
			Buckets: prometheus.DefBuckets,
		},
	)
)
