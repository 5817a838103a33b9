package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/orderfeed/internal/adapter/metrics"
)

// MetricsTracer implements pgx.QueryTracer to collect query metrics.
type MetricsTracer struct {
	metrics *metrics.DatabaseMetrics
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

// NewMetricsTracer creates a tracer recording into m.
func NewMetricsTracer(m *metrics.DatabaseMetrics) *MetricsTracer {
	return &MetricsTracer{metrics: m}
}

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: time.Now(),
		queryName: extractQueryName(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}

	t.metrics.QueryDuration.WithLabelValues(qctx.queryName).Observe(time.Since(qctx.startTime).Seconds())
	if data.Err != nil {
		t.metrics.QueryErrors.WithLabelValues(qctx.queryName).Inc()
	}
}

// extractQueryName keeps metric cardinality low by labelling with the
// leading SQL keyword only.
func extractQueryName(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	name := strings.ToLower(fields[0])
	if len(name) > 20 {
		return name[:20]
	}
	return name
}
