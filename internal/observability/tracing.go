package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"syndicate-ledger/internal/apperr"
)

const instrumentationName = "syndicate-ledger"

// SetupTracing initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: with an empty endpoint SetupTracing returns a no-op
// shutdown function and the global no-op provider stays in place.
// The returned shutdown function flushes pending spans and should be deferred.
func SetupTracing(ctx context.Context, serviceName, endpoint string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// Outcome labels an operation result: "ok", the lower-cased error kind, or
// "error" for unclassified failures.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return "validation"
	case apperr.KindAuthorization:
		return "authorization"
	case apperr.KindNotFound:
		return "not_found"
	case apperr.KindConflict:
		return "conflict"
	case apperr.KindState:
		return "state"
	}
	return "error"
}

// Track starts a span for component.operation and returns a finish func
// that ends it and records the operation metrics. Use it as:
//
//	ctx, done := observability.Track(ctx, "trading", "buy")
//	defer func() { done(&err) }()
func Track(ctx context.Context, component, operation string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	name := component + "." + operation
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	start := time.Now()

	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		outcome := Outcome(err)
		span.SetAttributes(attribute.String("ledger.outcome", outcome))
		if err != nil && outcome == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		RecordOperation(name, outcome, time.Since(start).Seconds())
	}
}
