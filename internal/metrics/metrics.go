// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PersonaRedemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_persona_redemptions_total",
			Help: "Persona token redemption attempts by outcome",
		},
		[]string{"outcome"},
	)
	Extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_extractions_total",
			Help: "Model extraction requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	ExtractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyhub_extraction_duration_seconds",
			Help:    "Latency of model extraction calls",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		},
		[]string{"kind"},
	)
	AttachmentUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_attachments_uploaded_total",
			Help: "Attachment uploads by outcome",
		},
		[]string{"outcome"},
	)
	AttachmentsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studyhub_attachments_swept_total",
			Help: "Attachments soft-deleted by the retention sweep",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PersonaRedemptions,
		Extractions,
		ExtractionDuration,
		AttachmentUploads,
		AttachmentsSwept,
	)
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
