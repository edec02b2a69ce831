// Package telemetry exposes Prometheus counters for the sync engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's counters. Construct with NewMetrics; a nil
// registerer yields working but unregistered counters, which is what unit
// tests use.
type Metrics struct {
	SendsStarted     prometheus.Counter
	SendsConfirmed   prometheus.Counter
	SendsFailed      prometheus.Counter
	EventsApplied    prometheus.Counter
	EchoesSuppressed prometheus.Counter
	EventsDropped    prometheus.Counter
	Resubscribes     prometheus.Counter
}

// NewMetrics creates the counter set and registers it on reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SendsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_sends_started_total",
			Help: "Send attempts accepted past draft validation.",
		}),
		SendsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_sends_confirmed_total",
			Help: "Sends acknowledged by the durable store.",
		}),
		SendsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_sends_failed_total",
			Help: "Sends that failed in upload or create.",
		}),
		EventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_channel_events_applied_total",
			Help: "Push channel events applied to the message store.",
		}),
		EchoesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_channel_echoes_suppressed_total",
			Help: "Own-write broadcast echoes short-circuited by the adapter.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_channel_events_dropped_total",
			Help: "Events dropped for unknown ids or foreign conversations.",
		}),
		Resubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_channel_resubscribes_total",
			Help: "Push channel resubscriptions after disconnects.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SendsStarted, m.SendsConfirmed, m.SendsFailed,
			m.EventsApplied, m.EchoesSuppressed, m.EventsDropped,
			m.Resubscribes,
		)
	}
	return m
}
