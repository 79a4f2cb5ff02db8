package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newReader(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	r := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(r))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return r, mp
}

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, r.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func attr(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.AsString()
}

func TestHTTPServerMetrics_CountsServerErrors(t *testing.T) {
	r, mp := newReader(t)
	h, err := newHTTPServerMetrics(mp.Meter("test"), "matchd")
	require.NoError(t, err)

	status := http.StatusOK
	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/history", nil))
	status = http.StatusServiceUnavailable
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/db/status", nil))

	got := collect(t, r)

	dur, ok := got["http.server.request.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var total uint64
	for _, dp := range dur.DataPoints {
		total += dp.Count
	}
	assert.Equal(t, uint64(2), total)

	errs, ok := got["http.server.errors"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	assert.Equal(t, int64(1), errs.DataPoints[0].Value)
	assert.Equal(t, "5xx", attr(errs.DataPoints[0].Attributes, "http.response.status_class"))

	active, ok := got["http.server.active_requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range active.DataPoints {
		assert.Zero(t, dp.Value)
	}
}

func TestHTTPServerMetrics_NilPassThrough(t *testing.T) {
	var h *HTTPServerMetrics
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	assert.NotNil(t, h.Middleware(next))
}

func TestNormalizeMethodAndStatusClass(t *testing.T) {
	assert.Equal(t, "GET", normalizeMethod("GET"))
	assert.Equal(t, "_OTHER", normalizeMethod("BREW"))
	assert.Equal(t, "2xx", statusClass(201))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "1xx", statusClass(101))
}

func TestDBMetrics_RoutesAndFailures(t *testing.T) {
	r, mp := newReader(t)
	d, err := newDBMetrics(mp.Meter("test"), "matchd")
	require.NoError(t, err)

	ctx := context.Background()
	d.RecordRoute(ctx, "READ", "replica1")
	d.RecordRoute(ctx, "READ", "replica2")
	d.RecordRoute(ctx, "WRITE", "primary")
	d.RecordQuery(ctx, "WRITE", "primary", "ok", 3*time.Millisecond)
	d.RecordQuery(ctx, "READ", "replica2", "connection_error", time.Second)

	got := collect(t, r)

	routes, ok := got["db.routing.decisions"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, routes.DataPoints, 3)

	errs, ok := got["db.query.errors"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	assert.Equal(t, "replica2", attr(errs.DataPoints[0].Attributes, "db.route.endpoint"))
	assert.Equal(t, "connection_error", attr(errs.DataPoints[0].Attributes, "db.outcome"))
}

func TestDBMetrics_NilSafe(t *testing.T) {
	var d *DBMetrics
	d.RecordRoute(context.Background(), "READ", "replica1")
	d.RecordQuery(context.Background(), "READ", "replica1", "ok", time.Millisecond)
}
