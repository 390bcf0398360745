package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Observability bundles the OpenTelemetry meter and tracer used by the
// eligibility flow. A zero-value or Noop instance is safe to use.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	journeyCounter otelmetric.Int64Counter
	callDuration   otelmetric.Float64Histogram
}

// New wires an OpenTelemetry meter provider exporting to the default
// Prometheus registry and an SDK tracer provider. Span export is left to the
// caller via sdktrace options.
func New(serviceName, version string, opts ...sdktrace.TracerProviderOption) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	)

	meterProvider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	tracerProvider := sdktrace.NewTracerProvider(append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}, opts...)...)
	otel.SetTracerProvider(tracerProvider)

	o := &Observability{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(serviceName),
	}
	o.initInstruments(meterProvider.Meter(serviceName))
	return o, nil
}

// Noop returns an instance that records nothing.
func Noop() *Observability {
	o := &Observability{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
	o.initInstruments(noop.NewMeterProvider().Meter("noop"))
	return o
}

func (o *Observability) initInstruments(meter otelmetric.Meter) {
	o.journeyCounter, _ = meter.Int64Counter(
		"eligibility.journeys",
		otelmetric.WithDescription("Journeys reaching a terminal or reset state"),
	)
	o.callDuration, _ = meter.Float64Histogram(
		"eligibility.collaborator.duration",
		otelmetric.WithDescription("Collaborator call duration"),
		otelmetric.WithUnit("ms"),
	)
}

// StartSpan opens a span named after the operation.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o == nil || o.tracer == nil {
		return tracenoop.NewTracerProvider().Tracer("noop").Start(ctx, name)
	}
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecordJourney counts a journey outcome such as "offers_shown" or "reset".
func (o *Observability) RecordJourney(ctx context.Context, outcome string) {
	if o == nil || o.journeyCounter == nil {
		return
	}
	o.journeyCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCollaboratorCall records one collaborator call.
func (o *Observability) RecordCollaboratorCall(ctx context.Context, collaborator, outcome string, d time.Duration) {
	if o == nil || o.callDuration == nil {
		return
	}
	o.callDuration.Record(ctx, float64(d.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("collaborator", collaborator),
		attribute.String("outcome", outcome),
	))
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if o.meterProvider != nil {
		return o.meterProvider.Shutdown(ctx)
	}
	return nil
}
