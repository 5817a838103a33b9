package feedclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// feedServer runs script for every accepted connection, passing the
// 1-based connection number.
func feedServer(t *testing.T, script func(n int, conn *websocket.Conn)) (url string, conns *atomic.Int32, userAgent *atomic.Value) {
	t.Helper()

	conns = &atomic.Int32{}
	userAgent = &atomic.Value{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.Header.Get("User-Agent"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(int(conns.Add(1)), conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns, userAgent
}

// holdOpen keeps the server side open until the client goes away.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func startClient(t *testing.T, c *Client) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func TestClient_ReceivesInitAndEvents(t *testing.T) {
	url, _, userAgent := feedServer(t, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"init","data":[{"id":2},{"id":1}]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"presence","data":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"db_event","operation":"insert","data":{"id":3}}`))
		holdOpen(conn)
	})

	feed := NewFeed(10)
	var updates atomic.Int32
	c := New(feed, Options{
		URL:      url,
		OnUpdate: func(*Feed) { updates.Add(1) },
	})
	startClient(t, c)

	require.Eventually(t, func() bool { return feed.Len() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{`insert:{"id":3}`, `snapshot:{"id":1}`, `snapshot:{"id":2}`}, ops(feed.Items()))
	require.Eventually(t, func() bool { return updates.Load() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, StateConnected, c.State())
	assert.True(t, strings.HasPrefix(userAgent.Load().(string), "orderfeed-feedclient/"))
}

func TestClient_ReconnectsAfterServerDrop(t *testing.T) {
	url, conns, _ := feedServer(t, func(n int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"db_event","operation":"insert","data":{"id":`+strconv.Itoa(n)+`}}`))
		if n == 1 {
			return
		}
		holdOpen(conn)
	})

	rec := &stateRecorder{}
	feed := NewFeed(10)
	c := New(feed, Options{
		URL:            url,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		OnStateChange:  rec.record,
	})
	startClient(t, c)

	require.Eventually(t, func() bool { return feed.Len() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), conns.Load())
	assert.Equal(t, []State{
		StateConnecting, StateConnected, StateDisconnected,
		StateConnecting, StateConnected,
	}, rec.snapshot())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	rec := &stateRecorder{}
	c := New(NewFeed(10), Options{
		URL:            url,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxRetries:     2,
		OnStateChange:  rec.record,
	})
	_, errCh := startClient(t, c)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "giving up")
	case <-time.After(5 * time.Second):
		t.Fatal("client did not give up")
	}

	assert.Equal(t, []State{
		StateConnecting, StateDisconnected,
		StateConnecting, StateDisconnected,
		StateConnecting, StateDisconnected,
	}, rec.snapshot())
}

func TestClient_RejectedUpgradeIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "full", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := New(NewFeed(10), Options{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		MaxRetries:     1,
	})
	_, errCh := startClient(t, c)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 503")
	case <-time.After(5 * time.Second):
		t.Fatal("client did not give up")
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_StopsOnCancel(t *testing.T) {
	closed := make(chan struct{})
	url, _, _ := feedServer(t, func(_ int, conn *websocket.Conn) {
		holdOpen(conn)
		close(closed)
	})

	c := New(NewFeed(10), Options{URL: url})
	cancel, errCh := startClient(t, c)

	require.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateDisconnected, c.State())

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not see the close")
	}
}
