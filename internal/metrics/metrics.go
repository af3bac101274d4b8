// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections_active",
		Help: "Open socket connections, authenticated or not.",
	})

	IdentitiesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_identities_online",
		Help: "Distinct identities with at least one live connection.",
	})

	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_received_total",
		Help: "Inbound socket events by type.",
	}, []string{"type"})

	EventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_sent_total",
		Help: "Outbound socket events queued for delivery by type.",
	}, []string{"type"})

	EventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_event_errors_total",
		Help: "Inbound events that ended in an error event, by error code.",
	}, []string{"code"})

	DroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_dropped_events_total",
		Help: "Outbound events dropped because a connection's send queue was full or closed.",
	})
)
