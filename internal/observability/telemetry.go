package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/oriys/tillage"

// Config selects where tenant request spans go.
type Config struct {
	Enabled bool
	// Exporter is otlp-http, or none to keep trace ids for log correlation
	// without shipping spans anywhere.
	Exporter    string
	Endpoint    string
	ServiceName string
	Environment string
	SampleRate  float64
}

var (
	tracer   trace.Tracer = noop.NewTracerProvider().Tracer(instrumentationName)
	provider *sdktrace.TracerProvider
)

// Resource describes this process to the tracing backend. Spans carry
// tenant ids as span attributes, so the resource only names the service.
func Resource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "tillage"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceNamespace("tillage"),
		attribute.String("tillage.tenancy", "shared-schema"),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

// Init installs the process-wide tracer. With tracing disabled every span
// is a no-op and GetTraceID returns "".
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		tracer, provider = noop.NewTracerProvider().Tracer(instrumentationName), nil
		return nil
	}

	res, err := Resource(ctx, cfg)
	if err != nil {
		return fmt.Errorf("tracing resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	}
	switch cfg.Exporter {
	case "otlp-http", "otlp", "":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case "none":
	default:
		return fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer, provider = tp.Tracer(instrumentationName), tp
	return nil
}

// sampler honours an incoming sampling decision and samples new roots at
// rate.
func sampler(rate float64) sdktrace.Sampler {
	if rate >= 1 || rate < 0 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Shutdown flushes buffered spans, giving up after five seconds.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return provider.Shutdown(ctx)
}

func Tracer() trace.Tracer {
	return tracer
}

// Enabled reports whether Init installed a real tracer.
func Enabled() bool {
	return provider != nil
}
