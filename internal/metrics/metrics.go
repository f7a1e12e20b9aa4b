// Package metrics exposes Prometheus collectors for the softphone line.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/cloudconnect/internal/callstate"
)

const namespace = "softphone"

// Collector holds the softphone metrics on its own registry.
type Collector struct {
	registry     *prometheus.Registry
	transitions  *prometheus.CounterVec
	rosterCalls  prometheus.Gauge
	dialFailures prometheus.Counter
	outcomes     *prometheus.CounterVec
}

// New creates a Collector with Go runtime metrics registered alongside.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Local line state transitions by destination state.",
		}, []string{"state"}),
		rosterCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "roster_calls",
			Help:      "Calls in the most recently published roster.",
		}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_failures_total",
			Help:      "Dial attempts rejected before the call started.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_outcomes_total",
			Help:      "Call outcomes reported to the backend by status.",
		}, []string{"status"}),
	}
	c.registry.MustRegister(
		c.transitions,
		c.rosterCalls,
		c.dialFailures,
		c.outcomes,
		collectors.NewGoCollector(),
	)
	return c
}

// Attach subscribes the collector to the coordinator. The returned function
// detaches it.
func (c *Collector) Attach(coord *callstate.Coordinator) func() {
	stopState := coord.Subscribe(func(s callstate.CallState) {
		c.transitions.WithLabelValues(string(s)).Inc()
	})
	stopRoster := coord.SubscribeRoster(func(entries []callstate.ActiveCallEntry) {
		c.rosterCalls.Set(float64(len(entries)))
	})
	return func() {
		stopState()
		stopRoster()
	}
}

// DialFailed counts a rejected dial.
func (c *Collector) DialFailed() {
	c.dialFailures.Inc()
}

// OutcomeLogged counts a reported call outcome.
func (c *Collector) OutcomeLogged(status string) {
	c.outcomes.WithLabelValues(status).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
