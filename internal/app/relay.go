package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/google/uuid"
	"github.com/pscheid92/orderfeed/internal/adapter/metrics"
	"github.com/pscheid92/orderfeed/internal/domain"
)

// Publisher delivers envelopes to subscribers.
type Publisher interface {
	Publish(env domain.Envelope) (int, error)
	SendTo(id uuid.UUID, env domain.Envelope) error
}

// Relay turns store changes into broadcasts and serves snapshots to the
// bootstrap and ad-hoc query paths.
type Relay struct {
	snapshots      domain.SnapshotProvider
	publisher      Publisher
	breaker        circuitbreaker.CircuitBreaker[any]
	metrics        *metrics.RelayMetrics
	bootstrapLimit int
}

var _ domain.ChangeSink = (*Relay)(nil)

// NewRelay creates a relay whose bootstrap snapshots hold at most bootstrapLimit records.
func NewRelay(snapshots domain.SnapshotProvider, publisher Publisher, m *metrics.RelayMetrics, bootstrapLimit int) *Relay {
	return &Relay{
		snapshots:      snapshots,
		publisher:      publisher,
		breaker:        newSnapshotBreaker(m),
		metrics:        m,
		bootstrapLimit: bootstrapLimit,
	}
}

// newSnapshotBreaker opens after 60% of at least 5 snapshot reads fail
// within 10s and probes again after 30s.
func newSnapshotBreaker(m *metrics.RelayMetrics) circuitbreaker.CircuitBreaker[any] {
	return circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "snapshot",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			m.CircuitBreakerState.Set(stateToFloat(e.NewState))
		}).
		Build()
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// HandleChange broadcasts a live change to every subscriber.
func (r *Relay) HandleChange(_ context.Context, ev domain.ChangeEvent) {
	delivered, err := r.publisher.Publish(domain.EventEnvelope(ev))
	if err != nil {
		slog.Error("Failed to publish change", "operation", ev.Operation, "error", err)
		return
	}
	slog.Debug("Change relayed", "operation", ev.Operation, "subscribers", delivered)
}

// Snapshot returns up to limit recent records. While the breaker is open it
// fails fast with domain.ErrStore without touching the store. Reads the
// caller cancelled do not count against the breaker.
func (r *Relay) Snapshot(ctx context.Context, limit int) ([]domain.Record, error) {
	if !r.breaker.TryAcquirePermit() {
		return nil, fmt.Errorf("%w: snapshot unavailable: %w", domain.ErrStore, circuitbreaker.ErrOpen)
	}

	records, err := r.snapshots.FetchRecent(ctx, limit)
	if err != nil {
		if callerGone(ctx, err) {
			r.breaker.RecordSuccess()
		} else {
			r.breaker.RecordError(err)
		}
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	r.breaker.RecordSuccess()
	return records, nil
}

// callerGone reports whether err stems from the caller abandoning the read,
// such as a subscriber hanging up mid-bootstrap. Deadlines still count: a
// read that times out is a slow store.
func callerGone(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled)
}

// Bootstrap sends an init envelope to one subscriber. Failures are logged
// and the subscriber stays registered for live events.
func (r *Relay) Bootstrap(ctx context.Context, id uuid.UUID) {
	records, err := r.Snapshot(ctx, r.bootstrapLimit)
	if err != nil {
		r.metrics.Bootstraps.WithLabelValues("snapshot_failed").Inc()
		slog.WarnContext(ctx, "Failed to send init snapshot", "subscriber_id", id.String(), "error", err)
		return
	}

	env, err := domain.InitEnvelope(records)
	if err != nil {
		r.metrics.Bootstraps.WithLabelValues("encode_failed").Inc()
		slog.ErrorContext(ctx, "Failed to encode init snapshot", "subscriber_id", id.String(), "error", err)
		return
	}

	if err := r.publisher.SendTo(id, env); err != nil {
		result := "send_failed"
		if errors.Is(err, domain.ErrSubscriberNotFound) {
			result = "subscriber_gone"
		}
		r.metrics.Bootstraps.WithLabelValues(result).Inc()
		slog.DebugContext(ctx, "Init snapshot not delivered", "subscriber_id", id.String(), "error", err)
		return
	}

	r.metrics.Bootstraps.WithLabelValues("sent").Inc()
	slog.DebugContext(ctx, "Init snapshot sent", "subscriber_id", id.String(), "records", len(records))
}

// BreakerState exposes the snapshot breaker state for readiness checks.
func (r *Relay) BreakerState() circuitbreaker.State {
	return r.breaker.State()
}
