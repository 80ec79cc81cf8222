// Package metrics holds the Prometheus collectors shared by the store, the
// event bus and the HTTP layer. They register on the default registry and
// are exposed by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "store",
		Name:      "writes_total",
		Help:      "Successful collection writes by key.",
	}, []string{"key"})

	StoreConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "store",
		Name:      "cas_conflicts_total",
		Help:      "Compare-and-swap conflicts that forced a retry, by key.",
	}, []string{"key"})

	StoreCorruptReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "store",
		Name:      "corrupt_reads_total",
		Help:      "Collections that failed to decode and were treated as empty.",
	}, []string{"key"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events published on the local bus, by type.",
	}, []string{"type"})

	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "events",
		Name:      "remote_received_total",
		Help:      "Events received from other sessions over the broadcast channel, by type.",
	}, []string{"type"})

	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "events",
		Name:      "broadcast_failures_total",
		Help:      "Broadcasts that could not be handed to the cross-session channel.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method and status.",
	}, []string{"method", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "ws",
		Name:      "connections",
		Help:      "Open websocket sessions.",
	})
)
