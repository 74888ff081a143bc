package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/throttlecove/throttlecove/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type appMetrics struct {
	registerCounter metric.Int64Counter
	loginCounter    metric.Int64Counter
	refreshCounter  metric.Int64Counter
	lockoutCounter  metric.Int64Counter
	tokenCounter    metric.Int64Counter
	repoCounter     metric.Int64Counter
}

var (
	metricsMu sync.RWMutex
	metrics   *appMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("throttlecove")
	m := &appMetrics{}
	for _, c := range []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"auth.register.attempts", &m.registerCounter},
		{"auth.login.attempts", &m.loginCounter},
		{"auth.refresh.attempts", &m.refreshCounter},
		{"auth.lockout.events", &m.lockoutCounter},
		{"auth.token.validations", &m.tokenCounter},
		{"repository.operations", &m.repoCounter},
	} {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	metricsMu.Lock()
	metrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *appMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return metrics
}

func RecordRegistration(status string) {
	if m := current(); m != nil {
		m.registerCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordLogin(status string) {
	if m := current(); m != nil {
		m.loginCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordRefresh(status string) {
	if m := current(); m != nil {
		m.refreshCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAccountLockout(event string) {
	if m := current(); m != nil {
		m.lockoutCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", event)))
	}
}

func RecordAccessTokenValidation(ctx context.Context, outcome string) {
	if m := current(); m != nil {
		m.tokenCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	if m := current(); m != nil {
		m.repoCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		))
	}
}
