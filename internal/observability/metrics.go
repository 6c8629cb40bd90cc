// Package observability owns the process-wide Prometheus collectors for the
// relay. Registration is lazy and idempotent so any entry point (engine,
// registry, transport) can record without coordinating startup order.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wirebeam",
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Pairing sessions issued.",
		},
	)
	sessionsRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wirebeam",
			Subsystem: "sessions",
			Name:      "removed_total",
			Help:      "Pairing sessions removed, by reason.",
		},
		[]string{"reason"},
	)
	messagesRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wirebeam",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Messages delivered to peers, by wire type.",
		},
		[]string{"type"},
	)
	deliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wirebeam",
			Subsystem: "relay",
			Name:      "delivery_failures_total",
			Help:      "Transport-level send failures (non-fatal).",
		},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wirebeam",
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Currently registered client connections.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionsCreated,
			sessionsRemoved,
			messagesRelayed,
			deliveryFailures,
			activeConnections,
		)
	})
}

func RecordSessionCreated() {
	RegisterMetrics()
	sessionsCreated.Inc()
}

// RecordSessionsRemoved counts removals by reason ("expired" or "grace").
func RecordSessionsRemoved(reason string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	sessionsRemoved.WithLabelValues(reason).Add(float64(n))
}

func RecordRelayed(msgType string) {
	RegisterMetrics()
	messagesRelayed.WithLabelValues(msgType).Inc()
}

func RecordDeliveryFailure() {
	RegisterMetrics()
	deliveryFailures.Inc()
}

func ConnectionOpened() {
	RegisterMetrics()
	activeConnections.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	activeConnections.Dec()
}
