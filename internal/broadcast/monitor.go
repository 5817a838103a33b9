package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/orderfeed/internal/adapter/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPingInterval = 30 * time.Second
	pingConcurrency     = 32
)

// Monitor probes subscribers on a fixed interval. Each tick first evicts
// subscribers that did not acknowledge the previous probe, then marks the
// survivors pending and pings them. A subscriber therefore survives at most
// one missed probe.
type Monitor struct {
	registry *Registry
	clock    clockwork.Clock
	interval time.Duration
	metrics  *metrics.BroadcastMetrics
}

// NewMonitor creates a monitor. A non-positive interval uses 30s.
func NewMonitor(registry *Registry, clock clockwork.Clock, interval time.Duration, m *metrics.BroadcastMetrics) *Monitor {
	if interval <= 0 {
		interval = defaultPingInterval
	}
	return &Monitor{registry: registry, clock: clock, interval: interval, metrics: m}
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("Liveness monitor started", "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Liveness monitor stopped")
			return nil
		case <-ticker.Chan():
			m.tick()
		}
	}
}

// tick pings at most pingConcurrency subscribers at a time, so a tick
// with stalled peers takes about ceil(stalled/pingConcurrency) write
// timeouts instead of one per peer.
func (m *Monitor) tick() {
	m.registry.SweepDead()

	var survivors []*Subscriber
	m.registry.ForEach(func(s *Subscriber) {
		s.markPending()
		survivors = append(survivors, s)
	})

	var g errgroup.Group
	g.SetLimit(pingConcurrency)
	for _, s := range survivors {
		g.Go(func() error {
			m.probe(s)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) probe(s *Subscriber) {
	if err := s.ping(); err != nil {
		if m.registry.Unregister(s.id) {
			m.metrics.Evictions.WithLabelValues("ping_failed").Inc()
			slog.Info("Subscriber evicted", "subscriber_id", s.id.String(), "reason", "ping_failed", "error", err)
		}
		return
	}
	m.metrics.ProbesSent.Inc()
}
