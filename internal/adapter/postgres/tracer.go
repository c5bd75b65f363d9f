package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/nearby/internal/metrics"
)

// MetricsTracer implements pgx.QueryTracer to collect database metrics
type MetricsTracer struct{}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: time.Now(),
		queryName: queryName(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}

	metrics.DBQueryDuration.WithLabelValues(qctx.queryName).Observe(time.Since(qctx.startTime).Seconds())
	if data.Err != nil {
		metrics.DBErrorsTotal.WithLabelValues(qctx.queryName).Inc()
	}
}

// queryName derives a low-cardinality metric label from SQL: the called
// function for "SELECT ... FROM fn(" statements, otherwise the leading verb
// and table, e.g. "update_profiles".
func queryName(sql string) string {
	fields := strings.Fields(strings.ToLower(sql))
	if len(fields) == 0 {
		return "unknown"
	}

	for i, f := range fields {
		if f == "from" && i+1 < len(fields) {
			if name, _, found := strings.Cut(fields[i+1], "("); found {
				return name
			}
		}
	}

	verb := fields[0]
	switch verb {
	case "update":
		if len(fields) > 1 {
			return verb + "_" + fields[1]
		}
	case "insert", "delete":
		if len(fields) > 2 {
			return verb + "_" + fields[2]
		}
	}
	return verb
}
