package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"flash-sale-reservation-service/internal/config"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

// NewLogger builds the process-wide slog logger. JSON to stdout always;
// when OTLP log export is enabled the otelslog bridge fans records out to
// the collector as well.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func InitLogging(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdklog.LoggerProvider, error) {
	if !cfg.OTEL.LogsEnabled {
		logger.Info("otel log export disabled")
		return nil, nil
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.OTEL.ExporterEndpoint)}
	if cfg.OTEL.ExporterInsecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp log exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTEL.ServiceName),
			attribute.String("deployment.environment", cfg.OTEL.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create log resource: %w", err)
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	bridged := slog.New(otelslog.NewHandler("flash-sale-reservation-service", otelslog.WithLoggerProvider(lp)))
	slog.SetDefault(bridged)
	logger.Info("otel log export initialized", "endpoint", cfg.OTEL.ExporterEndpoint)
	return lp, nil
}
