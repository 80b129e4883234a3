package observability

import (
	"github.com/smallbiznis/fieldclock/internal/config"
	"github.com/smallbiznis/fieldclock/internal/observability/metrics"
	"github.com/smallbiznis/fieldclock/internal/observability/tracing"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideMetricsConfig,
		metrics.EngineWithConfig,
		metrics.NewHTTPMetrics,
		tracing.NewTracerProvider,
		tracing.NewMeterProvider,
	),
	fx.Invoke(ensureSchedulerMetrics),
	fx.Invoke(func(*sdktrace.TracerProvider, *sdkmetric.MeterProvider) {}),
)

func provideMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	}
}

func ensureSchedulerMetrics(cfg metrics.Config) {
	metrics.SchedulerWithConfig(cfg)
}
