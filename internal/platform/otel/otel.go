package otel

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// ShutdownFn flushes and stops a provider.
type ShutdownFn func(context.Context) error

// newResource describes this process to both the trace and metric pipelines.
// OTEL_RESOURCE_ATTRIBUTES is honored; serviceName wins over OTEL_SERVICE_NAME.
func newResource(ctx context.Context, serviceName string, extra []attribute.KeyValue) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithAttributes(extra...),
	)
}

// Init configures global OpenTelemetry tracing.
//
// OTEL_TRACES_EXPORTER picks the exporter:
//   - "otlp": OTEL_EXPORTER_OTLP_ENDPOINT over OTEL_EXPORTER_OTLP_PROTOCOL ("grpc" or "http/protobuf");
//     OTEL_EXPORTER_OTLP_INSECURE=true disables TLS for grpc
//   - "stdout": pretty-printed spans, for local debugging
//   - "none": spans are created but dropped
//
// When unset it is "otlp" if an endpoint is configured and "none" otherwise.
func Init(ctx context.Context, serviceName string, extraAttrs ...attribute.KeyValue) (ShutdownFn, error) {
	res, err := newResource(ctx, serviceName, extraAttrs)
	if err != nil {
		return nil, err
	}

	exp, err := newTraceExporter(ctx)
	if err != nil {
		return nil, err
	}

	// Sampling follows OTEL_TRACES_SAMPLER through the SDK defaults.
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exp != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithMaxExportBatchSize(512),
		))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Shutting the provider down flushes and closes the exporter too.
	return tp.Shutdown, nil
}

func newTraceExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	kind := strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_TRACES_EXPORTER")))
	if kind == "" {
		kind = "none"
		if endpoint != "" {
			kind = "otlp"
		}
	}

	switch kind {
	case "none":
		return nil, nil
	case "stdout", "console":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
	default:
		return nil, errors.New("unsupported OTEL_TRACES_EXPORTER: " + kind)
	}

	if endpoint == "" {
		return nil, errors.New("OTEL_TRACES_EXPORTER=otlp requires OTEL_EXPORTER_OTLP_ENDPOINT")
	}

	proto := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"))
	var client otlptrace.Client
	switch strings.ToLower(proto) {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if strings.EqualFold(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"), "true") {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		client = otlptracegrpc.NewClient(opts...)
	case "http/protobuf", "http":
		client = otlptracehttp.NewClient(otlptracehttp.WithEndpoint(endpoint))
	default:
		return nil, errors.New("unsupported OTEL_EXPORTER_OTLP_PROTOCOL: " + proto)
	}

	return otlptrace.New(ctx, client)
}
