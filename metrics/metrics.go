// Package metrics provides Prometheus metrics for the agent engine and bridge.
//
// All recording methods are safe on a nil *Metrics so library users that do
// not expose metrics can pass nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all agent metrics.
	Namespace = "attribution"

	// Subsystem is the subsystem for agent metrics.
	Subsystem = "agent"
)

// Suppression reasons.
const (
	ReasonDedupe         = "dedupe"
	ReasonNoClick        = "legacy_no_click"
	ReasonLegacyDisabled = "legacy_disabled"
	ReasonSkip           = "skip"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	// Envelope metrics
	EnvelopesBuilt    *prometheus.CounterVec
	EnvelopesSkipped  *prometheus.CounterVec
	LegacyEnvelopes   *prometheus.CounterVec
	ObserverFailures  *prometheus.CounterVec
	StorageDegraded   prometheus.Counter
	DetectionVertical *prometheus.CounterVec

	// Transport metrics
	TransportAttempts *prometheus.CounterVec
	QueueDropped      prometheus.Counter
	QueueDepth        prometheus.Gauge

	// Bridge metrics
	PagesOpen   prometheus.Gauge
	PagesClosed *prometheus.CounterVec
}

// New creates and registers all agent metrics. A nil registerer uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initEnvelopeMetrics(factory)
	m.initTransportMetrics(factory)
	m.initBridgeMetrics(factory)

	return m
}

func (m *Metrics) initEnvelopeMetrics(factory promauto.Factory) {
	m.EnvelopesBuilt = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "envelopes_built_total",
			Help:      "Total number of envelopes built and submitted",
		},
		[]string{"event_type", "event_source"},
	)

	m.EnvelopesSkipped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "envelopes_suppressed_total",
			Help:      "Total number of envelopes suppressed before submission",
		},
		[]string{"reason"},
	)

	m.LegacyEnvelopes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "legacy_envelopes_total",
			Help:      "Total number of legacy envelopes submitted",
		},
		[]string{"kind"},
	)

	m.ObserverFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "observer_failures_total",
			Help:      "Total number of recovered observer failures",
		},
		[]string{"observer"},
	)

	m.StorageDegraded = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "storage_degraded_total",
			Help:      "Total number of page loads that fell back to in-memory storage",
		},
	)

	m.DetectionVertical = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "detected_vertical_total",
			Help:      "Total number of detection passes by detected vertical",
		},
		[]string{"vertical"},
	)
}

func (m *Metrics) initTransportMetrics(factory promauto.Factory) {
	m.TransportAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "transport_attempts_total",
			Help:      "Total number of delivery attempts by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	m.QueueDropped = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "dispatch_dropped_total",
			Help:      "Total number of requests dropped because the dispatch queue was full",
		},
	)

	m.QueueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "dispatch_queue_depth",
			Help:      "Number of requests waiting in dispatch queues",
		},
	)
}

func (m *Metrics) initBridgeMetrics(factory promauto.Factory) {
	m.PagesOpen = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "bridge",
			Name:      "pages_open",
			Help:      "Number of pages currently open on the bridge",
		},
	)

	m.PagesClosed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "bridge",
			Name:      "pages_closed_total",
			Help:      "Total number of pages closed by cause",
		},
		[]string{"cause"},
	)
}

// EnvelopeBuilt records a submitted envelope.
func (m *Metrics) EnvelopeBuilt(eventType, source string) {
	if m == nil {
		return
	}
	m.EnvelopesBuilt.WithLabelValues(eventType, source).Inc()
}

// Suppressed records an envelope that was not submitted.
func (m *Metrics) Suppressed(reason string) {
	if m == nil {
		return
	}
	m.EnvelopesSkipped.WithLabelValues(reason).Inc()
}

// Legacy records a submitted legacy envelope.
func (m *Metrics) Legacy(kind string) {
	if m == nil {
		return
	}
	m.LegacyEnvelopes.WithLabelValues(kind).Inc()
}

// ObserverFailed records a recovered observer panic.
func (m *Metrics) ObserverFailed(observer string) {
	if m == nil {
		return
	}
	m.ObserverFailures.WithLabelValues(observer).Inc()
}

// StorageFellBack records a page load whose storage degraded.
func (m *Metrics) StorageFellBack() {
	if m == nil {
		return
	}
	m.StorageDegraded.Inc()
}

// Detected records a detection pass result.
func (m *Metrics) Detected(vertical string) {
	if m == nil {
		return
	}
	m.DetectionVertical.WithLabelValues(vertical).Inc()
}

// Attempt records one transport attempt.
func (m *Metrics) Attempt(transport, outcome string) {
	if m == nil {
		return
	}
	m.TransportAttempts.WithLabelValues(transport, outcome).Inc()
}

// Dropped records a request dropped by a full dispatch queue.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.QueueDropped.Inc()
}

// QueueDelta adjusts the dispatch queue depth gauge.
func (m *Metrics) QueueDelta(d float64) {
	if m == nil {
		return
	}
	m.QueueDepth.Add(d)
}

// PageOpened records a page opened on the bridge.
func (m *Metrics) PageOpened() {
	if m == nil {
		return
	}
	m.PagesOpen.Inc()
}

// PageClosed records a page closed on the bridge.
func (m *Metrics) PageClosed(cause string) {
	if m == nil {
		return
	}
	m.PagesOpen.Dec()
	m.PagesClosed.WithLabelValues(cause).Inc()
}
