// Package feedclient consumes the order feed over WebSocket and keeps a
// bounded, newest-first view of it. Reconnects follow the state machine
// disconnected -> connecting -> connected -> disconnected with capped
// exponential backoff.
package feedclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/orderfeed/internal/domain"
	"github.com/pscheid92/orderfeed/internal/platform/version"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	handshakeTimeout      = 10 * time.Second
	maxFrameSize          = 4 << 20
)

// Options configures a Client. Zero durations fall back to defaults.
type Options struct {
	URL    string
	Header http.Header

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxRetries bounds consecutive failed dials. Zero retries forever.
	MaxRetries uint64

	Clock         clockwork.Clock
	OnStateChange func(State)
	OnUpdate      func(*Feed)
}

// Client maintains one feed connection at a time and applies its frames to a Feed.
type Client struct {
	opts   Options
	feed   *Feed
	dialer *websocket.Dialer

	mu    sync.Mutex
	state State
}

// New creates a disconnected client that fills feed once Run is called.
func New(feed *Feed, opts Options) *Client {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Header == nil {
		opts.Header = http.Header{}
	}
	if opts.Header.Get("User-Agent") == "" {
		opts.Header.Set("User-Agent", version.UserAgent("feedclient"))
	}

	return &Client{
		opts: opts,
		feed: feed,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		state: StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed && c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Clock = c.opts.Clock
	b.Reset()

	if c.opts.MaxRetries > 0 {
		return backoff.WithMaxRetries(b, c.opts.MaxRetries)
	}
	return b
}

// Run connects and consumes until ctx is cancelled, reconnecting whenever
// the connection drops. It returns nil on cancellation and an error only
// when MaxRetries consecutive dials have failed.
func (c *Client) Run(ctx context.Context) error {
	b := c.newBackOff()

	for {
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err == nil {
			b.Reset()
			c.setState(StateConnected)
			slog.Info("Connected to feed", "url", c.opts.URL)

			err = c.consume(ctx, conn)
		}
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("giving up on %s: %w", c.opts.URL, err)
		}
		slog.Warn("Feed connection failed, retrying", "error", err, "backoff", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-c.opts.Clock.After(wait):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return conn, nil
}

// consume reads frames into the feed until the connection fails or ctx
// is cancelled.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameSize)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		applied, err := c.feed.Apply(frame)
		if errors.Is(err, domain.ErrDecode) {
			slog.Warn("Dropping malformed frame", "error", err)
			continue
		}
		if !applied {
			slog.Debug("Ignoring unknown message", "frame", string(frame))
			continue
		}
		if c.opts.OnUpdate != nil {
			c.opts.OnUpdate(c.feed)
		}
	}
}
