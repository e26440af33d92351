package tracing

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Options configures Setup.
type Options struct {
	Service string
	// Endpoint is "host:port" (plain HTTP) or an http(s) URL whose path, if
	// any, replaces the default /v1/traces.
	Endpoint string
	// SampleRatio is the share of new traces recorded. Zero records all.
	SampleRatio float64
	// Exporter, when set, is used instead of an OTLP exporter for Endpoint.
	Exporter sdktrace.SpanExporter
}

// Provider is the process tracer provider installed by Setup.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup builds a tracer provider from opts and installs it as the otel
// global. Without an exporter or endpoint, spans are sampled but go nowhere.
func Setup(ctx context.Context, opts Options) (*Provider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(opts.Service)))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	exp := opts.Exporter
	if exp == nil && opts.Endpoint != "" {
		otlp, err := otlpExporter(ctx, opts.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter for %s: %w", opts.Endpoint, err)
		}
		exp = otlp
	}

	ratio := opts.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	if exp != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

func otlpExporter(ctx context.Context, endpoint string) (*otlptrace.Exporter, error) {
	if !strings.Contains(endpoint, "://") {
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(u.Host)}
	if u.Scheme != "https" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if p := strings.TrimSuffix(u.Path, "/"); p != "" {
		opts = append(opts, otlptracehttp.WithURLPath(p))
	}
	return otlptracehttp.New(ctx, opts...)
}

// Flush exports every finished span still buffered.
func (p *Provider) Flush(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes and stops the provider. A nil Provider is a no-op.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartSpan starts spanName on the global provider. A context without a
// trace ID adopts the span's, so log lines and spans can be joined.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if sc := span.SpanContext(); sc.IsValid() && GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, span
}
