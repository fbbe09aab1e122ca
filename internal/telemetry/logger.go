package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InitLoggerProvider initializes the OpenTelemetry logger provider.
// It configures an OTLP gRPC exporter and returns a slog.Logger that
// bridges to OpenTelemetry for log-trace correlation.
func InitLoggerProvider(ctx context.Context, serviceName, otlpEndpoint, environment string) (*sdklog.LoggerProvider, *slog.Logger, error) {
	conn, err := grpc.NewClient(otlpEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx, otlploggrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log exporter: %w", err)
	}

	res, err := newResource(serviceName, environment)
	if err != nil {
		return nil, nil, err
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	)

	global.SetLoggerProvider(lp)

	logger := otelslog.NewLogger(serviceName, otelslog.WithLoggerProvider(lp))

	return lp, logger, nil
}

// NewLocalLogger returns a JSON logger for runs without an OTLP collector.
func NewLocalLogger(w io.Writer, serviceName string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).
		With(slog.String("service", serviceName))
}
