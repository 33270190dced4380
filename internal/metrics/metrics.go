// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds every metric the app registers. One Set per process; it owns its
// registry so tests can build isolated instances.
type Set struct {
	registry *prometheus.Registry

	EventsReceived      *prometheus.CounterVec
	Dispatches          *prometheus.CounterVec
	AttachmentDiscards  *prometheus.CounterVec
	DispatchDuration    prometheus.Histogram
	QueueDepth          prometheus.Gauge
	Healthy             prometheus.Gauge
}

// Dispatch outcomes (label values for Dispatches).
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Attachment discard reasons.
const (
	DiscardFetch = "fetch"
	DiscardSize  = "size"
	DiscardType  = "type"
)

func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		registry: reg,
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushbridge",
			Name:      "events_received_total",
			Help:      "Events accepted into the pipeline, by source",
		}, []string{"source"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushbridge",
			Name:      "dispatch_total",
			Help:      "Per-event pipeline outcomes",
		}, []string{"outcome"}),
		AttachmentDiscards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushbridge",
			Name:      "attachment_discarded_total",
			Help:      "Attachments dropped before dispatch, by reason",
		}, []string{"reason"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pushbridge",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of one event's render+fetch+post pass",
			Buckets:   prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pushbridge",
			Name:      "queue_depth",
			Help:      "Events waiting in the intake queue",
		}),
		Healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pushbridge",
			Name:      "healthy",
			Help:      "Liveness predicate (1 healthy, 0 unhealthy)",
		}),
	}

	reg.MustRegister(
		s.EventsReceived,
		s.Dispatches,
		s.AttachmentDiscards,
		s.DispatchDuration,
		s.QueueDepth,
		s.Healthy,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

// Handler serves this set's registry (mounted at /metrics on the ops server).
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
