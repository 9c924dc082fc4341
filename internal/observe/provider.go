package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "luna".
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// AssistantName is the name the assistant answers to, reported as
	// luna.assistant.name.
	AssistantName string

	// CaptureDevice is the configured capture device, reported as
	// luna.capture.device.
	CaptureDevice string

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter
}

// Resource returns the telemetry resource describing this Luna instance.
func (c ProviderConfig) Resource() (*resource.Resource, error) {
	name := c.ServiceName
	if name == "" {
		name = "luna"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(c.ServiceVersion),
	}
	if c.AssistantName != "" {
		attrs = append(attrs, attribute.String("luna.assistant.name", c.AssistantName))
	}
	if c.CaptureDevice != "" {
		attrs = append(attrs, attribute.String("luna.capture.device", c.CaptureDevice))
	}
	// Merging two different schema URLs fails; the default's URL wins.
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// InitProvider installs global meter and tracer providers. Metrics are
// exported through the Prometheus registry served on /metrics. The returned
// function flushes and closes both providers.
func InitProvider(_ context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := cfg.Resource()
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
