package otel

import (
	"context"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics is the scrape side of the meter provider.
type Metrics struct {
	// Handler serves /metrics from Registry.
	Handler http.Handler
	// Registry accepts plain Prometheus collectors next to the OTEL instruments.
	Registry prom.Registerer
	Shutdown func(context.Context) error
}

// InitMetricsPrometheus installs the global MeterProvider. Instruments are
// exported through a private Prometheus registry that also carries the Go
// and process collectors, plus anything registered on Metrics.Registry.
func InitMetricsPrometheus(ctx context.Context, serviceName string, extraAttrs ...attribute.KeyValue) (Metrics, error) {
	res, err := newResource(ctx, serviceName, extraAttrs)
	if err != nil {
		return Metrics{}, err
	}

	// One registry per process, never the global default.
	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	exp, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return Metrics{}, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	otel.SetMeterProvider(mp)
	if err := runtime.Start(
		runtime.WithMinimumReadMemStatsInterval(10 * time.Second),
	); err != nil {
		return Metrics{}, err
	}

	return Metrics{
		Handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Registry: reg,
		Shutdown: mp.Shutdown,
	}, nil
}
