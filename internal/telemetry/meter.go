package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hiroki-koketsu/checklist-api/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TaskCounter reports how many tasks exist per status.
type TaskCounter func(ctx context.Context) (model.StatusCounts, error)

// PoolStats reports database connection pool statistics.
type PoolStats func() sql.DBStats

// Metrics holds the custom metrics instruments for the application.
type Metrics struct {
	RequestCounter  metric.Int64Counter
	RequestDuration metric.Float64Histogram
	TasksGauge      metric.Int64ObservableGauge
	PoolOpenGauge   metric.Int64ObservableGauge
	PoolWaitCounter metric.Int64ObservableCounter
}

// InitMeterProvider initializes the OpenTelemetry meter provider.
// It configures an OTLP gRPC exporter and sets up the global meter provider.
func InitMeterProvider(ctx context.Context, serviceName, otlpEndpoint, environment string) (*sdkmetric.MeterProvider, error) {
	conn, err := grpc.NewClient(otlpEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	res, err := newResource(serviceName, environment)
	if err != nil {
		return nil, err
	}

	// Create meter provider with periodic reader (10 second interval)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(10*time.Second),
		)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return mp, nil
}

// NewMetrics creates and registers custom metrics instruments. countTasks
// and poolStats are polled on every collection.
func NewMetrics(meter metric.Meter, countTasks TaskCounter, poolStats PoolStats) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.RequestCounter, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	m.RequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	m.TasksGauge, err = meter.Int64ObservableGauge(
		"tasks_total",
		metric.WithDescription("Current number of tasks in the system by status"),
		metric.WithUnit("{task}"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			counts, err := countTasks(ctx)
			if err != nil {
				return err
			}
			for _, status := range model.Statuses {
				o.Observe(counts.Get(status), metric.WithAttributes(attribute.String("task.status", string(status))))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks gauge: %w", err)
	}

	m.PoolOpenGauge, err = meter.Int64ObservableGauge(
		"db_pool_open_connections",
		metric.WithDescription("Open database connections by state"),
		metric.WithUnit("{connection}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			stats := poolStats()
			o.Observe(int64(stats.InUse), metric.WithAttributes(attribute.String("state", "in_use")))
			o.Observe(int64(stats.Idle), metric.WithAttributes(attribute.String("state", "idle")))
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool gauge: %w", err)
	}

	m.PoolWaitCounter, err = meter.Int64ObservableCounter(
		"db_pool_wait_count",
		metric.WithDescription("Total number of times a request waited for a database connection"),
		metric.WithUnit("{wait}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(poolStats().WaitCount)
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool wait counter: %w", err)
	}

	return m, nil
}

// RecordRequest records one served HTTP request.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int, start time.Time) {
	duration := time.Since(start).Seconds()

	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, duration, attrs)
}
