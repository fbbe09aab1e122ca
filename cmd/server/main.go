package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/hiroki-koketsu/checklist-api/internal/config"
	"github.com/hiroki-koketsu/checklist-api/internal/handler"
	"github.com/hiroki-koketsu/checklist-api/internal/repository"
	"github.com/hiroki-koketsu/checklist-api/internal/storage"
	"github.com/hiroki-koketsu/checklist-api/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()

	// Basic logger for startup (before OTel is initialized)
	logger := telemetry.NewLocalLogger(os.Stdout, cfg.ServiceName, cfg.IsDevelopment())
	logger.Info("starting application",
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("db_driver", cfg.DBDriver),
	)

	ctx := context.Background()
	shutdownOps := map[string]gfshutdown.Operation{}

	if cfg.OTelEnabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, cfg.OTLPEndpoint, cfg.Environment)
		if err != nil {
			logger.Error("failed to initialize tracer provider", slog.Any("error", err))
			os.Exit(1)
		}
		shutdownOps["tracer-provider"] = tp.Shutdown

		mp, err := telemetry.InitMeterProvider(ctx, cfg.ServiceName, cfg.OTLPEndpoint, cfg.Environment)
		if err != nil {
			logger.Error("failed to initialize meter provider", slog.Any("error", err))
			os.Exit(1)
		}
		shutdownOps["meter-provider"] = mp.Shutdown

		// Logger provider last so startup errors above still reach stdout.
		lp, otelLogger, err := telemetry.InitLoggerProvider(ctx, cfg.ServiceName, cfg.OTLPEndpoint, cfg.Environment)
		if err != nil {
			logger.Error("failed to initialize logger provider", slog.Any("error", err))
			os.Exit(1)
		}
		shutdownOps["logger-provider"] = lp.Shutdown
		logger = otelLogger
	}

	gateway, err := storage.Open(ctx, storage.Options{
		Driver:       cfg.DBDriver,
		DSN:          cfg.DBDSN,
		MaxOpenConns: cfg.DBMaxConns,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("database connected",
		slog.String("dialect", string(gateway.Dialect())),
		slog.Int("max_open_conns", gateway.Stats().MaxOpenConnections),
	)

	taskRepo := repository.NewTaskRepository(gateway)

	meter := otel.Meter(cfg.ServiceName)
	metrics, err := telemetry.NewMetrics(meter, taskRepo.CountByStatus, gateway.Stats)
	if err != nil {
		logger.Error("failed to create metrics", slog.Any("error", err))
		os.Exit(1)
	}

	taskHandler := handler.NewTaskHandler(taskRepo, logger, metrics, cfg.IsDevelopment())
	router := handler.NewRouter(taskHandler, handler.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
		DB:             gateway,
	})

	// Wrap router with OpenTelemetry HTTP instrumentation
	otelHandler := otelhttp.NewHandler(router, "http-server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      otelHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdownOps["http-server"] = func(ctx context.Context) error {
		logger.Info("shutting down server...")
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server forced to shutdown", slog.Any("error", err))
		}
		return gateway.Close()
	}

	go func() {
		logger.Info("server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, shutdownTimeout, shutdownOps)

	exitCode := <-wait
	logger.Info("server stopped", slog.Int("exit_code", exitCode))
	os.Exit(exitCode)
}
