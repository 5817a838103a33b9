package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/orderfeed/internal/adapter/metrics"
)

// Options tunes per-subscriber writers. Zero values fall back to defaults.
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

// Registry is the set of live subscribers. Every method is safe for
// concurrent use; iteration works on a snapshot so callbacks may call back
// into the registry.
type Registry struct {
	mu           sync.RWMutex
	subscribers  map[uuid.UUID]*Subscriber
	metrics      *metrics.BroadcastMetrics
	sendBuffer   int
	writeTimeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(m *metrics.BroadcastMetrics, opts Options) *Registry {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Registry{
		subscribers:  make(map[uuid.UUID]*Subscriber),
		metrics:      m,
		sendBuffer:   opts.SendBuffer,
		writeTimeout: opts.WriteTimeout,
	}
}

// Register adds a connection as a live subscriber and starts its writer.
func (r *Registry) Register(conn Conn) uuid.UUID {
	id := uuid.New()
	s := newSubscriber(id, conn, r.writeTimeout, r.sendBuffer, r.onFault)

	r.mu.Lock()
	r.subscribers[id] = s
	count := len(r.subscribers)
	r.mu.Unlock()

	r.metrics.Subscribers.Set(float64(count))
	slog.Debug("Subscriber registered", "subscriber_id", id.String(), "subscribers", count)
	return id
}

// Unregister removes the subscriber and closes its connection. It reports
// whether the id was registered; calling it twice is harmless.
func (r *Registry) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	s, ok := r.subscribers[id]
	if ok {
		delete(r.subscribers, id)
	}
	count := len(r.subscribers)
	r.mu.Unlock()

	if !ok {
		return false
	}

	// The writer may be waiting on onFault; stop it outside the lock.
	s.stop()
	r.metrics.Subscribers.Set(float64(count))
	slog.Debug("Subscriber unregistered", "subscriber_id", id.String(), "subscribers", count)
	return true
}

// Get returns the subscriber for id.
func (r *Registry) Get(id uuid.UUID) (*Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subscribers[id]
	return s, ok
}

// ForEach calls fn for every subscriber registered at the time of the call.
func (r *Registry) ForEach(fn func(s *Subscriber)) {
	for _, s := range r.snapshot() {
		fn(s)
	}
}

// MarkAlive records a probe acknowledgement. Faulted subscribers stay dead.
func (r *Registry) MarkAlive(id uuid.UUID) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	s.markAlive()
	return true
}

// MarkPending clears the alive flag ahead of a probe.
func (r *Registry) MarkPending(id uuid.UUID) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	s.markPending()
	return true
}

// IsAlive reports the liveness flag of a registered subscriber.
func (r *Registry) IsAlive(id uuid.UUID) bool {
	s, ok := r.Get(id)
	return ok && s.IsAlive()
}

// SweepDead evicts every subscriber that is not alive, closing each
// connection, and returns the evicted ids.
func (r *Registry) SweepDead() []uuid.UUID {
	r.mu.Lock()
	var dead []*Subscriber
	for id, s := range r.subscribers {
		if !s.IsAlive() {
			dead = append(dead, s)
			delete(r.subscribers, id)
		}
	}
	count := len(r.subscribers)
	r.mu.Unlock()

	if len(dead) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(dead))
	for _, s := range dead {
		reason := "unresponsive"
		if s.faulted.Load() {
			reason = "faulted"
		}
		s.stop()
		r.metrics.Evictions.WithLabelValues(reason).Inc()
		slog.Info("Subscriber evicted", "subscriber_id", s.id.String(), "reason", reason)
		ids = append(ids, s.id)
	}
	r.metrics.Subscribers.Set(float64(count))
	return ids
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// CloseAll removes every subscriber, sending each a close frame with reason.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	all := make([]*Subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		all = append(all, s)
	}
	clear(r.subscribers)
	r.mu.Unlock()

	for _, s := range all {
		s.stopGraceful(reason)
	}
	r.metrics.Subscribers.Set(0)
	slog.Info("All subscribers closed", "count", len(all), "reason", reason)
}

func (r *Registry) snapshot() []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		out = append(out, s)
	}
	return out
}

func (r *Registry) onFault(_ *Subscriber, reason string, _ error) {
	r.metrics.SendFaults.WithLabelValues(reason).Inc()
}
