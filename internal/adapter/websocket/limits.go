package websocket

import (
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// LimitReason describes why a connection was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits caps concurrent subscribers and the rate of new accepts.
type ConnectionLimits struct {
	current atomic.Int64
	max     int64
	rate    *rate.Limiter
	clock   clockwork.Clock
}

// NewConnectionLimits creates limits allowing maxConnections concurrent
// connections and acceptsPerSecond new ones with the given burst.
// A non-positive maxConnections disables the cap; a non-positive rate
// disables rate limiting.
func NewConnectionLimits(maxConnections int64, acceptsPerSecond float64, burst int, clock clockwork.Clock) *ConnectionLimits {
	limit := rate.Inf
	if acceptsPerSecond > 0 {
		limit = rate.Limit(acceptsPerSecond)
	}
	return &ConnectionLimits{
		max:   maxConnections,
		rate:  rate.NewLimiter(limit, burst),
		clock: clock,
	}
}

// Acquire reserves a slot. The rate check comes first since it is cheapest
// to refuse.
func (l *ConnectionLimits) Acquire() (bool, LimitReason) {
	if !l.rate.AllowN(l.clock.Now(), 1) {
		return false, LimitReasonRate
	}

	for {
		current := l.current.Load()
		if l.max > 0 && current >= l.max {
			return false, LimitReasonGlobal
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true, ""
		}
	}
}

// Release frees a slot taken by Acquire.
func (l *ConnectionLimits) Release() {
	l.current.Add(-1)
}

// Current returns the number of held slots.
func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}
