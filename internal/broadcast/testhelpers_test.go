package broadcast

import (
	"errors"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/orderfeed/internal/adapter/metrics"
)

var errConnBroken = errors.New("connection broken")

// fakeConn records frames written by a subscriber.
type fakeConn struct {
	mu        sync.Mutex
	messages  [][]byte
	controls  []int
	closeData []byte
	pingErr   error
	writeErr  error
	gate      chan struct{} // when set, WriteMessage waits for it or Close
	pingGate  chan struct{} // when set, pings wait for it
	onPing    func()
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	gate, writeErr := c.gate, c.writeErr
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-c.closed:
			return errConnBroken
		}
	}
	if writeErr != nil {
		return writeErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == ws.PingMessage && c.pingGate != nil {
		if c.onPing != nil {
			c.onPing()
		}
		<-c.pingGate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingErr != nil {
		return c.pingErr
	}
	c.controls = append(c.controls, messageType)
	if messageType == ws.CloseMessage {
		c.closeData = append([]byte(nil), data...)
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	for i, m := range c.messages {
		out[i] = string(m)
	}
	return out
}

func (c *fakeConn) controlCount(messageType int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.controls {
		if t == messageType {
			n++
		}
	}
	return n
}

func newTestRegistry(t *testing.T, opts Options) (*Registry, *metrics.BroadcastMetrics) {
	t.Helper()
	m := metrics.NewBroadcastMetrics(prometheus.NewRegistry())
	r := NewRegistry(m, opts)
	t.Cleanup(func() { r.CloseAll("test done") })
	return r, m
}
