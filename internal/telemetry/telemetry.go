// Package telemetry provides OpenTelemetry integration for chief.
//
// Telemetry is disabled by default; Init installs no-op providers in that
// case.
//
// # Configuration
//
//	telemetry.enabled=true           enable telemetry
//	telemetry.stdout=true            write spans/metrics to stderr (dev mode)
//	telemetry.otlp-endpoint=host:4318  OTLP/HTTP metric endpoint (host:port or http(s) URL)
package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/ScottJutras/chief-ai-refactored-sub001"

// Options mirrors the telemetry.* config keys.
type Options struct {
	Enabled      bool
	Stdout       bool
	OTLPEndpoint string
	ServiceName  string
	Version      string
}

var (
	mu          sync.Mutex
	shutdownFns []func(context.Context) error
)

// Init configures OTel providers. When telemetry is disabled this installs
// no-op providers and returns immediately.
func Init(ctx context.Context, opts Options) error {
	if !opts.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "chief"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.Version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	tp, err := buildTraceProvider(res)
	if err != nil {
		return fmt.Errorf("telemetry: trace provider: %w", err)
	}
	mp, err := buildMetricProvider(ctx, res, opts)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return fmt.Errorf("telemetry: metric provider: %w", err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	mu.Lock()
	shutdownFns = append(shutdownFns, tp.Shutdown, mp.Shutdown)
	mu.Unlock()
	return nil
}

// Spans go to stderr; there is no OTLP trace exporter wired yet.
func buildTraceProvider(res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exp),
	), nil
}

func buildMetricProvider(ctx context.Context, res *resource.Resource, opts Options) (*sdkmetric.MeterProvider, error) {
	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if opts.Stdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return nil, err
		}
		mopts = append(mopts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)),
		))
	}

	if opts.OTLPEndpoint != "" {
		exp, err := newMetricExporter(ctx, opts.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		mopts = append(mopts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second)),
		))
	}

	return sdkmetric.NewMeterProvider(mopts...), nil
}

// Tracer returns a tracer with the given instrumentation name (or the global scope).
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter with the given instrumentation name (or the global scope).
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes all spans/metrics and shuts down OTel providers.
// Call it from PersistentPostRun with a short-lived context.
func Shutdown(ctx context.Context) {
	mu.Lock()
	fns := shutdownFns
	shutdownFns = nil
	mu.Unlock()
	for _, fn := range fns {
		_ = fn(ctx)
	}
}
