package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instruments are the pipeline's spans and metrics for one component.
// Instruments resolve against the global providers, so they are no-ops until
// Init installs real ones.
type Instruments struct {
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// NewInstruments creates the chief.<component>.* instruments.
func NewInstruments(component string) *Instruments {
	m := Meter(instrumentationScope + "/" + component)
	ops, _ := m.Int64Counter("chief."+component+".operations",
		metric.WithDescription("Total "+component+" operations"),
	)
	dur, _ := m.Float64Histogram("chief."+component+".duration",
		metric.WithDescription(component+" operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("chief."+component+".errors",
		metric.WithDescription("Total "+component+" operation errors"),
	)
	return &Instruments{
		tracer: Tracer(instrumentationScope + "/" + component),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// Start opens a span for the named operation and counts it.
func (in *Instruments) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("chief.operation", name)}, attrs...)
	ctx, span := in.tracer.Start(ctx, name, trace.WithAttributes(all...))
	in.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// End records duration and error, then ends the span.
func (in *Instruments) End(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Microseconds()) / 1000
	in.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		in.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// Count adds one to a named counter under the component's meter.
func (in *Instruments) Count(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter != nil {
		counter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// Counter creates an extra counter on the component's meter.
func Counter(component, name, description string) metric.Int64Counter {
	c, _ := Meter(instrumentationScope+"/"+component).Int64Counter(name, metric.WithDescription(description))
	return c
}
