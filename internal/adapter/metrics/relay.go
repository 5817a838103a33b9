package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics holds Prometheus metrics for the change listener and the
// snapshot paths.
type RelayMetrics struct {
	NotificationsReceived prometheus.Counter
	DecodeFailures        *prometheus.CounterVec
	ListenerConnected     prometheus.Gauge
	ListenerReconnects    prometheus.Counter
	Bootstraps            *prometheus.CounterVec
	CircuitBreakerState   prometheus.Gauge
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		NotificationsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "notifications_received_total",
			Help:      "Total number of notifications received from the store.",
		}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Total number of discarded malformed payloads, by source.",
		}, []string{"source"}),
		ListenerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "connected",
			Help:      "1 while the LISTEN connection is established, 0 otherwise.",
		}),
		ListenerReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "reconnects_total",
			Help:      "Total number of successful LISTEN reconnects.",
		}),
		Bootstraps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bootstraps_total",
			Help:      "Total number of subscriber bootstrap attempts, by result.",
		}, []string{"result"}),
		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "circuit_breaker_state",
			Help:      "Snapshot circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	reg.MustRegister(m.NotificationsReceived, m.DecodeFailures, m.ListenerConnected, m.ListenerReconnects, m.Bootstraps, m.CircuitBreakerState)
	return m
}
