// Package metrics exposes pipeline and push-fabric counters in Prometheus
// exposition form.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the process metric registry.
type Collector struct {
	registry *prometheus.Registry

	// Ingest and pipeline
	FramesReceived  *prometheus.CounterVec
	FramesProcessed *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	FramesRejected  *prometheus.CounterVec
	FramesCorrupt   *prometheus.CounterVec
	StagePanics     *prometheus.CounterVec
	ProcessingTime  *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec

	// Stages
	DetectorErrors    *prometheus.CounterVec
	EmbeddingsSkipped *prometheus.CounterVec

	// Persistence
	RowsDropped *prometheus.CounterVec

	// Outputs
	AlertsGenerated  *prometheus.CounterVec
	MovementsMatched prometheus.Counter
	PushDropped      *prometheus.CounterVec
	PushClients      *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{registry: reg}

	c.FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsight_frames_received_total",
		Help: "Frames admitted to a camera queue",
	}, []string{"camera_id"})
	reg.MustRegister(c.FramesReceived)

	c.FramesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsight_frames_processed_total",
		Help: "Frames that completed the pipeline",
	}, []string{"camera_id"})
	reg.MustRegister(c.FramesProcessed)

	c.FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsight_frames_dropped_total",
		Help: "Frames evicted by the drop-oldest queue policy",
	}, []string{"camera_id"})
	reg.MustRegister(c.FramesDropped)

	c.FramesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsight_frames_rejected_total",
		Help: "Frames rejected for a stale or duplicate frame id",
	}, []string{"camera_id"})
	reg.MustRegister(c.FramesRejected)

	c.FramesCorrupt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsight_frames_corrupt_total",
		Help: "Frames skipped because the image failed to decode",
	}, []string{"camera_id"})
	reg.MustRegister(c.FramesCorrupt)

	c.StagePanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsight_stage_panics_total",
		Help: "Recovered panics in per-camera pipeline stages",
	}, []string{"camera_id"})
	reg.MustRegister(c.StagePanics)

	c.ProcessingTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crowdsight_frame_processing_seconds",
		Help:    "Wall time per frame through the full stage graph",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"camera_id"})
	reg.MustRegister(c.ProcessingTime)

	c.QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crowdsight_queue_depth",
		Help: "Frames waiting in a camera queue",
	}, []string{"camera_id"})
	reg.MustRegister(c.QueueDepth)

	c.DetectorErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsight_detector_errors_total",
		Help: "Detector calls that failed after retries",
	}, []string{"camera_id"})
	reg.MustRegister(c.DetectorErrors)

	c.EmbeddingsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsight_embeddings_skipped_total",
		Help: "Embedding updates discarded as malformed",
	}, []string{"camera_id"})
	reg.MustRegister(c.EmbeddingsSkipped)

	c.RowsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsight_analytics_rows_dropped_total",
		Help: "Buffered analytics rows lost to the drop-oldest writer policy",
	}, []string{"camera_id"})
	reg.MustRegister(c.RowsDropped)

	c.AlertsGenerated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsight_alerts_generated_total",
		Help: "Alerts emitted by the generator",
	}, []string{"camera_id", "severity"})
	reg.MustRegister(c.AlertsGenerated)

	c.MovementsMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crowdsight_movements_matched_total",
		Help: "Cross-camera movements recorded",
	})
	reg.MustRegister(c.MovementsMatched)

	c.PushDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsight_push_dropped_total",
		Help: "Push messages dropped on slow subscribers",
	}, []string{"channel"})
	reg.MustRegister(c.PushDropped)

	c.PushClients = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crowdsight_push_clients",
		Help: "Connected push subscribers",
	}, []string{"channel"})
	reg.MustRegister(c.PushClients)

	return c
}

// Handler returns the exposition endpoint for the collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
