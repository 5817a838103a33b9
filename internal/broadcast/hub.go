package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/orderfeed/internal/adapter/metrics"
	"github.com/pscheid92/orderfeed/internal/domain"
)

// Hub delivers envelopes to subscribers in the registry.
type Hub struct {
	registry *Registry
	metrics  *metrics.BroadcastMetrics
	clock    clockwork.Clock
}

// NewHub creates a hub over registry.
func NewHub(registry *Registry, m *metrics.BroadcastMetrics, clock clockwork.Clock) *Hub {
	return &Hub{registry: registry, metrics: m, clock: clock}
}

// Publish serializes env once and enqueues it to every subscriber. A
// subscriber that cannot take the frame is faulted and skipped; the others
// still receive it. It returns the number of subscribers that accepted it.
func (h *Hub) Publish(env domain.Envelope) (int, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	h.metrics.EnvelopesPublished.WithLabelValues(string(env.Type)).Inc()

	start := h.clock.Now()
	delivered := 0
	h.registry.ForEach(func(s *Subscriber) {
		if err := s.send(data); err == nil {
			delivered++
		}
	})
	h.metrics.FanoutDuration.Observe(h.clock.Since(start).Seconds())

	slog.Debug("Envelope published", "type", env.Type, "operation", env.Operation, "delivered", delivered)
	return delivered, nil
}

// SendTo delivers env to one subscriber. It returns
// domain.ErrSubscriberNotFound when id is not registered.
func (h *Hub) SendTo(id uuid.UUID, env domain.Envelope) error {
	s, ok := h.registry.Get(id)
	if !ok {
		return domain.ErrSubscriberNotFound
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	h.metrics.EnvelopesPublished.WithLabelValues(string(env.Type)).Inc()

	if err := s.send(data); err != nil {
		return fmt.Errorf("failed to send to subscriber %s: %w", id, err)
	}
	return nil
}
