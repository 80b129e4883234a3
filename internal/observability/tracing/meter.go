package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/fieldclock/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const metricExportInterval = 30 * time.Second

// NewMeterProvider installs the global meter provider. Prometheus stays the
// scrape surface; OTLP push is added when an endpoint is configured.
func NewMeterProvider(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*sdkmetric.MeterProvider, error) {
	res, err := Resource(cfg)
	if err != nil {
		return nil, err
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), exporterDialTimeout)
		exporter, err := newMetricExporter(ctx, cfg)
		cancel()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricExportInterval)),
		))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down meter provider")
			return mp.Shutdown(ctx)
		},
	})
	return mp, nil
}

func newMetricExporter(ctx context.Context, cfg config.Config) (sdkmetric.Exporter, error) {
	switch cfg.OTLPProtocol {
	case "", "grpc":
		return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint), otlpmetricgrpc.WithInsecure())
	case "http", "http/protobuf":
		return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint), otlpmetrichttp.WithInsecure())
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", cfg.OTLPProtocol)
	}
}
