package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultServiceVersion is used when no service version is provided
const DefaultServiceVersion = "unknown"

// instrumentationScope prefixes meter and tracer names
const instrumentationScope = "github.com/mcpkit/oauth-core/"

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used.
	Enabled bool

	// Resource allows custom resource attributes.
	// If nil, a default resource is created from the service name and version.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "oauth-core"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	// Exporters are wired by the host application through the providers;
	// the library itself stays exporter-agnostic.
	inst.meterProvider = noop.NewMeterProvider()
	inst.tracerProvider = tracenoop.NewTracerProvider()

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// SetMeterProvider installs a meter provider (e.g. the SDK provider with
// a Prometheus or OTLP exporter) and rebuilds the metric instruments.
// Must be called before serving traffic. Ignored when instrumentation is
// disabled.
func (i *Instrumentation) SetMeterProvider(mp metric.MeterProvider) error {
	if !i.config.Enabled {
		return nil
	}
	i.meterProvider = mp
	metrics, err := newMetrics(i)
	if err != nil {
		return fmt.Errorf("failed to rebuild metrics: %w", err)
	}
	i.metrics = metrics
	i.registerShutdown(mp)
	return nil
}

// SetTracerProvider installs a tracer provider.
// Must be called before serving traffic. Ignored when instrumentation is
// disabled.
func (i *Instrumentation) SetTracerProvider(tp trace.TracerProvider) {
	if !i.config.Enabled {
		return
	}
	i.tracerProvider = tp
	i.registerShutdown(tp)
}

// registerShutdown queues a provider's Shutdown for the instrumentation
// Shutdown call, when the provider has one (SDK providers do, no-ops do
// not)
func (i *Instrumentation) registerShutdown(provider any) {
	if s, ok := provider.(interface{ Shutdown(context.Context) error }); ok {
		i.shutdownFuncs = append(i.shutdownFuncs, s.Shutdown)
	}
}

// Shutdown gracefully shuts down all registered instrumentation components
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope.
// Scopes are layer names like "http", "provider", "security".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(instrumentationScope + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(instrumentationScope + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}
