// Package metrics exposes the process's Prometheus metrics. Every metric
// is registered once at package init via promauto, matching the teacher's
// convention of package-level metric variables.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "answersvc_streams_active",
		Help: "Currently open answer-sse streams",
	})

	RequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "answersvc_requests_total",
		Help: "Total /api/v1/answer-sse requests accepted",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "answersvc_stage_duration_seconds",
		Help:    "Per-stage latency (validation, retrieval, generation)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	E2EDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "answersvc_e2e_duration_seconds",
		Help:    "End-to-end latency from request accepted to stream close",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0, 10.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "answersvc_errors_total",
		Help: "Error counts by stage and error kind",
	}, []string{"stage", "error_kind"})

	TemplateCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "answersvc_template_cache_total",
		Help: "Template fetcher outcomes",
	}, []string{"outcome"}) // hit | early_refresh | miss | stale_fallback

	AudioCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "answersvc_audio_cache_total",
		Help: "Audio cache outcomes",
	}, []string{"outcome"}) // hit | miss

	TTSBufferFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "answersvc_tts_buffer_flushes_total",
		Help: "TTS buffer flushes by trigger",
	}, []string{"trigger"}) // word_count | timeout | close

	EmbeddingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "answersvc_embedding_duration_seconds",
		Help:    "KM embedding generation latency",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5},
	})

	KMDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "answersvc_km_duration_seconds",
		Help:    "KM retrieval latency (embed + search)",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5},
	})
)
