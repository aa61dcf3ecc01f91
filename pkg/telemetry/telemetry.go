// Package telemetry wires up Prometheus + OpenTelemetry exporters used across
// the project.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"localdns/pkg/config"
	"localdns/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Telemetry holds the metric provider and the Prometheus scrape endpoint.
type Telemetry struct {
	cfg              *config.TelemetryConfig
	meterProvider    metric.MeterProvider
	prometheusServer *http.Server
	logger           *logging.Logger
}

// Metrics holds all application metrics.
type Metrics struct {
	QueriesTotal     metric.Int64Counter
	QueriesByType    metric.Int64Counter
	QueriesLocal     metric.Int64Counter
	QueriesForwarded metric.Int64Counter
	QueriesErrored   metric.Int64Counter
	QueryDuration    metric.Float64Histogram

	RecordCacheSize metric.Int64UpDownCounter
	LogQueueDepth   metric.Int64UpDownCounter
}

// New creates a telemetry instance. When disabled everything is backed by
// no-op providers so call sites never need nil checks.
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:           cfg,
			meterProvider: noop.NewMeterProvider(),
			logger:        logger,
		}, nil
	}

	t := &Telemetry{
		cfg:    cfg,
		logger: logger,
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
	)

	return t, nil
}

func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	if err := t.startPrometheusServer(); err != nil {
		return fmt.Errorf("failed to start prometheus server: %w", err)
	}

	t.logger.Info("Prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()

	return nil
}

// InitMetrics creates all application metrics on this provider's meter.
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("localdns")

	queriesTotal, err := meter.Int64Counter(
		"dns.queries.total",
		metric.WithDescription("Total number of DNS queries received"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}

	queriesByType, err := meter.Int64Counter(
		"dns.queries.by_type",
		metric.WithDescription("DNS queries by query type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries by type counter: %w", err)
	}

	queriesLocal, err := meter.Int64Counter(
		"dns.queries.local",
		metric.WithDescription("Queries answered from local records"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create local queries counter: %w", err)
	}

	queriesForwarded, err := meter.Int64Counter(
		"dns.queries.forwarded",
		metric.WithDescription("Queries forwarded to an upstream resolver"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create forwarded queries counter: %w", err)
	}

	queriesErrored, err := meter.Int64Counter(
		"dns.queries.errored",
		metric.WithDescription("Queries that failed at every upstream"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errored queries counter: %w", err)
	}

	queryDuration, err := meter.Float64Histogram(
		"dns.query.duration",
		metric.WithDescription("DNS query processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	recordCacheSize, err := meter.Int64UpDownCounter(
		"records.cache.size",
		metric.WithDescription("Number of records in the in-memory cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create record cache size gauge: %w", err)
	}

	logQueueDepth, err := meter.Int64UpDownCounter(
		"querylog.queue.depth",
		metric.WithDescription("Query log events waiting to be persisted"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create log queue depth gauge: %w", err)
	}

	return &Metrics{
		QueriesTotal:     queriesTotal,
		QueriesByType:    queriesByType,
		QueriesLocal:     queriesLocal,
		QueriesForwarded: queriesForwarded,
		QueriesErrored:   queriesErrored,
		QueryDuration:    queryDuration,
		RecordCacheSize:  recordCacheSize,
		LogQueueDepth:    logQueueDepth,
	}, nil
}

// MeterProvider returns the meter provider.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// Shutdown gracefully shuts down telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}

	t.logger.Info("Telemetry shut down")
	return nil
}
