package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OTLP trace and metric providers.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC, e.g. "localhost:4317"
	SampleRate     float64
	BatchTimeout   time.Duration
	Insecure       bool
}

// DefaultProviderConfig returns defaults suitable for a local collector.
func DefaultProviderConfig(endpoint string) *ProviderConfig {
	return &ProviderConfig{
		ServiceName:    "sigilzero-engine",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   endpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Insecure:       true,
	}
}

// Provider owns the OTLP-exporting TracerProvider and MeterProvider and
// the run-level instruments recorded by the CLI after each run. It
// registers both providers globally, so NewOTel sinks created afterwards
// export through it.
type Provider struct {
	config         *ProviderConfig
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logger         *slog.Logger

	runCounter   metric.Int64Counter
	errorCounter metric.Int64Counter
	durationHist metric.Float64Histogram
	activeRuns   metric.Int64UpDownCounter
}

// NewProvider builds and globally registers trace and metric providers
// exporting over OTLP/gRPC to config.OTLPEndpoint.
func NewProvider(ctx context.Context, config *ProviderConfig) (*Provider, error) {
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "tracing"),
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("tracing: init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("tracing: init metric provider: %w", err)
	}
	if err := p.initRunMetrics(); err != nil {
		return nil, fmt.Errorf("tracing: init run metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "tracing initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate)

	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)

	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initRunMetrics() error {
	meter := otel.Meter("sigilzero.engine",
		metric.WithInstrumentationVersion(p.config.ServiceVersion))

	var err error
	p.runCounter, err = meter.Int64Counter("sigilzero.runs.total",
		metric.WithDescription("Total runs executed, by status"),
		metric.WithUnit("{run}"))
	if err != nil {
		return err
	}
	p.errorCounter, err = meter.Int64Counter("sigilzero.runs.errors",
		metric.WithDescription("Runs that surfaced an error to the caller"),
		metric.WithUnit("{run}"))
	if err != nil {
		return err
	}
	p.durationHist, err = meter.Float64Histogram("sigilzero.run.duration",
		metric.WithDescription("Wall-clock run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300))
	if err != nil {
		return err
	}
	p.activeRuns, err = meter.Int64UpDownCounter("sigilzero.runs.active",
		metric.WithDescription("Runs currently in flight"),
		metric.WithUnit("{run}"))
	return err
}

// RunStarted marks a run in flight. The returned func records its
// completion; jobType is passed at completion since it is only known
// once the brief has been loaded.
func (p *Provider) RunStarted(ctx context.Context) func(jobType, status string, failed bool) {
	if p.activeRuns != nil {
		p.activeRuns.Add(ctx, 1)
	}
	start := time.Now()
	return func(jobType, status string, failed bool) {
		done := metric.WithAttributes(
			attribute.String("sigilzero.job_type", jobType),
			attribute.String("sigilzero.status", status),
		)
		if p.activeRuns != nil {
			p.activeRuns.Add(ctx, -1)
		}
		if p.runCounter != nil {
			p.runCounter.Add(ctx, 1, done)
		}
		if failed && p.errorCounter != nil {
			p.errorCounter.Add(ctx, 1, done)
		}
		if p.durationHist != nil {
			p.durationHist.Record(ctx, time.Since(start).Seconds(), done)
		}
	}
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
