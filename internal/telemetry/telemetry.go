// =============================================================================
// ReasonFlow OpenTelemetry SDK Initialization
// =============================================================================
// Builds the tracer and meter providers used by the reasoning engine. When
// telemetry is disabled nothing is exported and callers get noop providers.
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/BaSui01/reasonflow/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Providers holds the SDK TracerProvider and MeterProvider. Both are nil
// when telemetry is disabled.
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Option 调整 Init 的行为
type Option func(*options)

type options struct {
	spanExporter sdktrace.SpanExporter
	metricReader sdkmetric.Reader
	version      string
	global       bool
}

// WithSpanExporter replaces the OTLP trace exporter, e.g. with an
// in-memory exporter.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.spanExporter = exp }
}

// WithMetricReader replaces the periodic OTLP metric reader.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.metricReader = r }
}

// WithServiceVersion sets service.version; defaults to the module build version.
func WithServiceVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithoutGlobal keeps the providers out of the otel globals.
func WithoutGlobal() Option {
	return func(o *options) { o.global = false }
}

// Init initializes the OTel SDK. When cfg.Enabled is false, it returns noop
// Providers without connecting to any external service.
func Init(cfg config.TelemetryConfig, logger *zap.Logger, opts ...Option) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{}, nil
	}

	o := options{global: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.version == "" {
		o.version = buildVersion()
	}

	ctx := context.Background()
	res, err := newResource(ctx, cfg, o.version)
	if err != nil {
		return nil, err
	}

	spanExporter := o.spanExporter
	if spanExporter == nil {
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		}
		if spanExporter, err = otlptracegrpc.New(ctx, traceOpts...); err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
	}

	reader := o.metricReader
	if reader == nil {
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			_ = spanExporter.Shutdown(ctx)
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		var readerOpts []sdkmetric.PeriodicReaderOption
		if cfg.MetricInterval > 0 {
			readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.MetricInterval))
		}
		reader = sdkmetric.NewPeriodicReader(metricExporter, readerOpts...)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	if o.global {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(Propagator())
	}

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.String("service_version", o.version),
		zap.String("environment", cfg.Environment),
		zap.Float64("sample_rate", cfg.SampleRate),
		zap.Bool("global", o.global),
	)

	return &Providers{tp: tp, mp: mp}, nil
}

// Propagator 返回 W3C trace context + baggage 组合传播器
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

func newResource(ctx context.Context, cfg config.TelemetryConfig, version string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(version),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}
	return res, nil
}

// Enabled reports whether real SDK providers are installed.
func (p *Providers) Enabled() bool {
	return p != nil && p.tp != nil
}

// Tracer returns an SDK tracer, or a noop tracer when telemetry is disabled.
func (p *Providers) Tracer(name string) trace.Tracer {
	if !p.Enabled() {
		return tracenoop.NewTracerProvider().Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Meter returns an SDK meter, or a noop meter when telemetry is disabled.
func (p *Providers) Meter(name string) metric.Meter {
	if p == nil || p.mp == nil {
		return metricnoop.NewMeterProvider().Meter(name)
	}
	return p.mp.Meter(name)
}

// ForceFlush exports buffered spans and metrics without shutting down.
func (p *Providers) ForceFlush(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return errors.Join(p.tp.ForceFlush(ctx), p.mp.ForceFlush(ctx))
}

// Shutdown flushes pending spans/metrics and closes exporters.
// Safe to call on noop Providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// buildVersion returns the main module version, or "dev".
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
