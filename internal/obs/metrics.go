package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the access-pipeline counters.  All are registered on the
// registry passed to NewMetrics so tests can use a private one.
type Metrics struct {
	Events          *prometheus.CounterVec
	Decisions       *prometheus.CounterVec
	UnknownCards    prometheus.Counter
	DecodeFailures  prometheus.Counter
	AuditFailures   prometheus.Counter
	Dispatches      *prometheus.CounterVec
	Reconnects      prometheus.Counter
	LoopState       *prometheus.GaugeVec
	EventDuration   prometheus.Histogram
	DispatchBacklog prometheus.Gauge

	gatherer prometheus.Gatherer
}

// Dispatch outcomes.
const (
	DispatchSent    = "sent"
	DispatchFailed  = "failed"
	DispatchDropped = "dropped"
)

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_events_total",
			Help: "Card-read events by outcome.",
		}, []string{"outcome"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_decisions_total",
			Help: "Access decisions by result and reason.",
		}, []string{"result", "reason"}),
		UnknownCards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_unknown_credentials_total",
			Help: "Card reads that resolved to no user.",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_decode_failures_total",
			Help: "Payloads that could not be decoded as a chip number.",
		}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_audit_failures_total",
			Help: "Audit writes that failed to commit.",
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_dispatches_total",
			Help: "Decision publishes by outcome.",
		}, []string{"outcome"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_bus_reconnects_total",
			Help: "Broker connection attempts after the first.",
		}),
		LoopState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatekeeper_loop_state",
			Help: "1 for the ingest loop's current state, 0 otherwise.",
		}, []string{"state"}),
		EventDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_event_duration_seconds",
			Help:    "Time from message receipt to commit.",
			Buckets: prometheus.DefBuckets,
		}),
		DispatchBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_dispatch_queue_length",
			Help: "Decisions waiting to be published.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.Events, m.Decisions, m.UnknownCards, m.DecodeFailures, m.AuditFailures,
		m.Dispatches, m.Reconnects, m.LoopState, m.EventDuration, m.DispatchBacklog,
	)
	return m
}

// Handler serves the registry the metrics were created on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
