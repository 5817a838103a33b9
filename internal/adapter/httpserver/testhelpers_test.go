package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/orderfeed/internal/adapter/metrics"
	"github.com/pscheid92/orderfeed/internal/domain"
	"github.com/pscheid92/orderfeed/internal/platform/config"
)

type mockSnapshots struct {
	mu      sync.Mutex
	records []domain.Record
	err     error
	limits  []int
}

func (m *mockSnapshots) Snapshot(_ context.Context, limit int) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.records) {
		return m.records[:limit], nil
	}
	return m.records, nil
}

func (m *mockSnapshots) lastLimit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.limits) == 0 {
		return -1
	}
	return m.limits[len(m.limits)-1]
}

type mockWebsocket struct {
	calls int
}

func (m *mockWebsocket) Handle(c echo.Context) error {
	m.calls++
	return c.String(http.StatusOK, "websocket")
}

type serverOption func(*serverOptions)

type serverOptions struct {
	cfg          *config.Config
	snapshots    snapshotService
	websocket    websocketHandler
	healthChecks []HealthCheck
}

func withHealthChecks(checks ...HealthCheck) serverOption {
	return func(o *serverOptions) { o.healthChecks = checks }
}

func withSnapshots(s snapshotService) serverOption {
	return func(o *serverOptions) { o.snapshots = s }
}

func withWebsocket(ws websocketHandler) serverOption {
	return func(o *serverOptions) { o.websocket = ws }
}

func withConfig(mutate func(*config.Config)) serverOption {
	return func(o *serverOptions) { mutate(o.cfg) }
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:        "test",
		Port:          "0",
		SnapshotLimit: 200,
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *Server {
	t.Helper()

	o := &serverOptions{
		cfg:       testConfig(),
		snapshots: &mockSnapshots{},
		websocket: &mockWebsocket{},
	}
	for _, opt := range opts {
		opt(o)
	}

	reg := metrics.NewRegistry()
	return NewServer(o.cfg, o.snapshots, o.websocket, o.healthChecks, reg, metrics.NewHTTPMetrics(reg))
}

func serve(srv *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}
