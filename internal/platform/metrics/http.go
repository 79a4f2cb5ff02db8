// Package metrics defines the OTel instruments this service records. All
// attributes are low cardinality: method, status class, role, endpoint name.
package metrics

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func meter(service string) metric.Meter {
	return otel.Meter("macrocoach/" + service)
}

// HTTPServerMetrics times and counts requests on the public listener.
type HTTPServerMetrics struct {
	service string

	active   metric.Int64UpDownCounter
	duration metric.Float64Histogram
	failures metric.Int64Counter
}

func NewHTTPServerMetrics(service string) (*HTTPServerMetrics, error) {
	return newHTTPServerMetrics(meter(service), service)
}

func newHTTPServerMetrics(m metric.Meter, service string) (*HTTPServerMetrics, error) {
	h := &HTTPServerMetrics{service: service}
	var err error

	if h.active, err = m.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if h.duration, err = m.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Time to serve a request, middleware included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}
	if h.failures, err = m.Int64Counter(
		"http.server.errors",
		metric.WithDescription("Responses with a 5xx status"),
		metric.WithUnit("{response}"),
	); err != nil {
		return nil, err
	}
	return h, nil
}

// Middleware records every request passing through next. A nil receiver
// returns next unchanged.
func (h *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	if h == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		base := metric.WithAttributes(
			attribute.String("service.name", h.service),
			attribute.String("http.request.method", normalizeMethod(r.Method)),
		)
		h.active.Add(ctx, 1, base)
		defer h.active.Add(ctx, -1, base)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		done := metric.WithAttributes(
			attribute.String("service.name", h.service),
			attribute.String("http.request.method", normalizeMethod(r.Method)),
			attribute.String("http.response.status_class", statusClass(sw.status)),
		)
		h.duration.Record(ctx, time.Since(start).Seconds(), done)
		if sw.status >= 500 {
			h.failures.Add(ctx, 1, done)
		}
	})
}

// normalizeMethod folds unknown methods into one bucket so clients cannot
// mint new series.
func normalizeMethod(m string) string {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return m
	}
	return "_OTHER"
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	}
	return "1xx"
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
