package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/Quill/pkg/generation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/CTAG07/Quill"

// Telemetry bundles the tracer, the generation instruments and the /metrics handler.
type Telemetry struct {
	tracer         trace.Tracer
	requests       metric.Int64Counter
	tokens         metric.Int64Counter
	duration       metric.Float64Histogram
	metricsHandler http.Handler
	traceExporter  string
	shutdown       func(context.Context) error
}

// setupTelemetry builds the providers for cfg. Traces go to the OTLP endpoint
// when one is set, or to stdout when asked for; metrics are exposed for Prometheus
// through a registry private to this server cycle. When telemetry is disabled
// every instrument is a no-op and there is no metrics handler.
func setupTelemetry(ctx context.Context, cfg *TelemetryConfig, logger *slog.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		t, err := newTelemetry(tracenoop.NewTracerProvider(), noop.NewMeterProvider(), nil, func(context.Context) error { return nil })
		if err != nil {
			return nil, err
		}
		t.traceExporter = traceExporterNone
		return t, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(Version),
		),
	)
	if err != nil {
		return nil, err
	}

	traceProvider, exporter, err := initTracer(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	logger.Info("Telemetry initialized", slog.String("trace_exporter", exporter), slog.String("endpoint", cfg.OTLPEndpoint))

	registry := prometheus.NewRegistry()
	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		_ = traceProvider.Shutdown(ctx)
		return nil, err
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		var errs []error
		if err := meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := traceProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	t, err := newTelemetry(traceProvider, meterProvider, handler, shutdown)
	if err != nil {
		return nil, err
	}
	t.traceExporter = exporter
	return t, nil
}

const (
	traceExporterNone   = "none"
	traceExporterOTLP   = "otlp"
	traceExporterStdout = "stdout"
)

// initTracer returns the tracer provider for cfg and the name of its exporter.
// Without an OTLP endpoint spans are only printed when stdout export is on;
// otherwise they are recorded for propagation and dropped.
func initTracer(ctx context.Context, cfg *TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, string, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	name := traceExporterNone
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		otlpExporter, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, "", err
		}
		opts = append(opts, sdktrace.WithBatcher(otlpExporter))
		name = traceExporterOTLP
	} else if cfg.StdoutTraces {
		stdoutExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, "", err
		}
		opts = append(opts, sdktrace.WithBatcher(stdoutExporter))
		name = traceExporterStdout
	}
	return sdktrace.NewTracerProvider(opts...), name, nil
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider, handler http.Handler, shutdown func(context.Context) error) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &Telemetry{
		tracer:         tp.Tracer(instrumentationName),
		metricsHandler: handler,
		shutdown:       shutdown,
	}

	var err error
	if t.requests, err = meter.Int64Counter("quill.generation.requests",
		metric.WithDescription("Finished generation requests by provider and outcome.")); err != nil {
		return nil, err
	}
	if t.tokens, err = meter.Int64Counter("quill.generation.tokens",
		metric.WithDescription("Text chunks delivered to clients.")); err != nil {
		return nil, err
	}
	if t.duration, err = meter.Float64Histogram("quill.generation.duration",
		metric.WithDescription("Wall time of a generation request."),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return t, nil
}

// Tracer returns the tracer for request spans.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// MetricsHandler returns the Prometheus handler, or nil when telemetry is disabled.
func (t *Telemetry) MetricsHandler() http.Handler {
	return t.metricsHandler
}

// Record updates the generation instruments for res.
func (t *Telemetry) Record(res generation.Result) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("provider", string(res.Provider)),
		attribute.String("outcome", outcomeOf(res)),
	)
	t.requests.Add(ctx, 1, attrs)
	t.tokens.Add(ctx, int64(res.Tokens), attrs)
	t.duration.Record(ctx, res.Duration.Seconds(), attrs)
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}
