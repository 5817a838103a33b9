package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/orderfeed/internal/adapter/metrics"
	"github.com/pscheid92/orderfeed/internal/broadcast"
)

const (
	maxInboundMessageSize = 4096
	bootstrapTimeout      = 10 * time.Second
)

// Bootstrapper sends the initial snapshot to a freshly registered subscriber.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, id uuid.UUID)
}

// Acceptor upgrades HTTP requests to subscriber connections.
type Acceptor struct {
	upgrader     websocket.Upgrader
	registry     *broadcast.Registry
	bootstrapper Bootstrapper
	limits       *ConnectionLimits
	metrics      *metrics.BroadcastMetrics
}

// NewAcceptor creates an acceptor registering connections in registry.
func NewAcceptor(registry *broadcast.Registry, bootstrapper Bootstrapper, limits *ConnectionLimits, checkOrigin func(*http.Request) bool, m *metrics.BroadcastMetrics) *Acceptor {
	return &Acceptor{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		registry:     registry,
		bootstrapper: bootstrapper,
		limits:       limits,
		metrics:      m,
	}
}

// IsUpgrade reports whether the request asks for a WebSocket.
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// Handle registers the connection, kicks off its bootstrap and then drains
// inbound frames until the connection fails. It blocks for the lifetime of
// the connection.
func (a *Acceptor) Handle(c echo.Context) error {
	ok, reason := a.limits.Acquire()
	if !ok {
		a.metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		slog.Warn("WebSocket connection rejected", "reason", reason, "remote_addr", c.RealIP())
		if reason == LimitReasonRate {
			return c.String(http.StatusTooManyRequests, "Too many connection attempts")
		}
		return c.String(http.StatusServiceUnavailable, "Too many connections")
	}
	defer a.limits.Release()

	conn, err := a.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		a.metrics.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		slog.Debug("WebSocket upgrade failed", "error", err, "remote_addr", c.RealIP())
		return nil
	}
	conn.SetReadLimit(maxInboundMessageSize)

	id := a.registry.Register(conn)
	conn.SetPongHandler(func(string) error {
		a.registry.MarkAlive(id)
		return nil
	})
	slog.Info("Client connected", "subscriber_id", id.String(), "remote_addr", c.RealIP())

	// The request context ends with the handler; the bootstrap must end with
	// the connection instead.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request().Context()))
	defer cancel()
	go func() {
		bctx, bcancel := context.WithTimeout(ctx, bootstrapTimeout)
		defer bcancel()
		a.bootstrapper.Bootstrap(bctx, id)
	}()

	a.readLoop(conn, id)

	a.registry.Unregister(id)
	slog.Info("Client disconnected", "subscriber_id", id.String())
	return nil
}

func (a *Acceptor) readLoop(conn *websocket.Conn, id uuid.UUID) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Client read failed", "subscriber_id", id.String(), "error", err)
			}
			return
		}

		if messageType == websocket.TextMessage && !json.Valid(data) {
			slog.Debug("Ignoring non-JSON client message", "subscriber_id", id.String(), "size", len(data))
			continue
		}
		slog.Debug("Received from client", "subscriber_id", id.String(), "size", len(data))
	}
}
