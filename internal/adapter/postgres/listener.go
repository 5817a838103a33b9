package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pscheid92/orderfeed/internal/adapter/metrics"
	"github.com/pscheid92/orderfeed/internal/domain"
	"github.com/pscheid92/orderfeed/internal/platform/retry"
)

const closeTimeout = 5 * time.Second

// NotificationConn is the part of *pgx.Conn the listener uses.
type NotificationConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// DialFunc opens a dedicated connection for LISTEN.
type DialFunc func(ctx context.Context) (NotificationConn, error)

// Dialer returns a DialFunc connecting to databaseURL outside the pool, so
// notification reads never compete with snapshot queries.
func Dialer(databaseURL string) DialFunc {
	return func(ctx context.Context) (NotificationConn, error) {
		conn, err := pgx.Connect(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Listener holds the single LISTEN subscription and hands each decoded
// notification to the sink in arrival order.
type Listener struct {
	dial      DialFunc
	channel   string
	sink      domain.ChangeSink
	metrics   *metrics.RelayMetrics
	policy    retry.Policy
	conn      NotificationConn
	connected atomic.Bool
}

// NewListener creates a listener for channel. Call Listen before Run.
func NewListener(dial DialFunc, channel string, sink domain.ChangeSink, m *metrics.RelayMetrics) *Listener {
	l := &Listener{
		dial:    dial,
		channel: channel,
		sink:    sink,
		metrics: m,
	}
	l.policy = retry.Policy{
		MaxAttempts:    10,
		InitialBackoff: 500 * time.Millisecond,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Listener reconnect failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	return l
}

// Listen opens the connection and subscribes to the channel. A failure here
// is fatal to the caller.
func (l *Listener) Listen(ctx context.Context) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect listener: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		closeQuietly(conn)
		return fmt.Errorf("failed to listen on %q: %w", l.channel, err)
	}

	l.conn = conn
	l.connected.Store(true)
	l.metrics.ListenerConnected.Set(1)
	slog.Info("Listening for changes", "channel", l.channel)
	return nil
}

// Run reads notifications until ctx is cancelled. Listen must have
// succeeded first. A dropped connection is re-dialled; notifications sent
// meanwhile are lost. Run returns an error only when reconnecting gives up.
func (l *Listener) Run(ctx context.Context) error {
	defer l.shutdown()

	for {
		n, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			slog.Warn("Listener connection lost", "channel", l.channel, "error", err)
			l.disconnect()

			if err := retry.DoVoid(ctx, l.policy, classifyListenError, func() error { return l.Listen(ctx) }); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("listener reconnect failed: %w", err)
			}
			l.metrics.ListenerReconnects.Inc()
			continue
		}

		l.handle(ctx, n)
	}
}

// Connected reports whether the LISTEN connection is currently up.
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

func (l *Listener) handle(ctx context.Context, n *pgconn.Notification) {
	l.metrics.NotificationsReceived.Inc()

	ev, err := domain.DecodeChangeEvent([]byte(n.Payload))
	if err != nil {
		l.metrics.DecodeFailures.WithLabelValues("notification").Inc()
		slog.Warn("Dropping malformed notification", "channel", n.Channel, "error", err)
		return
	}

	l.sink.HandleChange(ctx, ev)
}

func (l *Listener) disconnect() {
	l.connected.Store(false)
	l.metrics.ListenerConnected.Set(0)
	if l.conn != nil {
		closeQuietly(l.conn)
		l.conn = nil
	}
}

func (l *Listener) shutdown() {
	l.disconnect()
	slog.Info("Listener stopped", "channel", l.channel)
}

func classifyListenError(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	return retry.Retry
}

func closeQuietly(conn NotificationConn) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		slog.Debug("Failed to close listener connection", "error", err)
	}
}
