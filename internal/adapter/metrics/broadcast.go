package metrics

import "github.com/prometheus/client_golang/prometheus"

// BroadcastMetrics holds Prometheus metrics for the subscriber registry,
// hub fan-out and liveness monitor.
type BroadcastMetrics struct {
	Subscribers         prometheus.Gauge
	EnvelopesPublished  *prometheus.CounterVec
	SendFaults          *prometheus.CounterVec
	Evictions           *prometheus.CounterVec
	ProbesSent          prometheus.Counter
	FanoutDuration      prometheus.Histogram
	ConnectionsRejected *prometheus.CounterVec
}

// NewBroadcastMetrics creates and registers broadcast metrics on the given registry.
func NewBroadcastMetrics(reg prometheus.Registerer) *BroadcastMetrics {
	m := &BroadcastMetrics{
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Number of registered WebSocket subscribers.",
		}),
		EnvelopesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "envelopes_published_total",
			Help:      "Total number of envelopes serialized for delivery, by envelope type.",
		}, []string{"type"}),
		SendFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "send_faults_total",
			Help:      "Total number of subscriber send faults, by reason.",
		}, []string{"reason"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "evictions_total",
			Help:      "Total number of subscribers evicted by the liveness monitor, by reason.",
		}, []string{"reason"}),
		ProbesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "probes_sent_total",
			Help:      "Total number of liveness pings sent.",
		}),
		FanoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "fanout_duration_seconds",
			Help:      "Time spent enqueuing one envelope to every subscriber.",
			Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "connections_rejected_total",
			Help:      "Total number of WebSocket connections rejected before upgrade, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.Subscribers, m.EnvelopesPublished, m.SendFaults, m.Evictions, m.ProbesSent, m.FanoutDuration, m.ConnectionsRejected)
	return m
}
