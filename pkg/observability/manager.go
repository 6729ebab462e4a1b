package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/snow-ghost/costrecon/pkg/logging"
	"github.com/snow-ghost/costrecon/pkg/metrics"
	"github.com/snow-ghost/costrecon/pkg/tracing"
)

// Manager manages all observability components
type Manager struct {
	metrics *metrics.PrometheusMetrics
	tracer  *tracing.Tracer
	logger  *logging.Logger
}

// Config holds observability configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	JaegerEndpoint string
	LogLevel       string
	LogFormat      string
}

// NewManager creates a new observability manager. Metrics register on reg;
// tracing stays no-op when no Jaeger endpoint is configured.
func NewManager(config Config, reg prometheus.Registerer) (*Manager, error) {
	prometheusMetrics := metrics.NewPrometheusMetrics(reg)

	tracer := tracing.NewNoopTracer()
	if config.JaegerEndpoint != "" {
		var err error
		tracer, err = tracing.NewTracer(tracing.Config{
			ServiceName:    config.ServiceName,
			ServiceVersion: config.ServiceVersion,
			JaegerEndpoint: config.JaegerEndpoint,
			Environment:    config.Environment,
		})
		if err != nil {
			return nil, err
		}
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:     config.LogLevel,
		Format:    config.LogFormat,
		Output:    "stdout",
		AddCaller: true,
		AddStack:  false,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		metrics: prometheusMetrics,
		tracer:  tracer,
		logger:  logger.With("service", config.ServiceName, "environment", config.Environment),
	}, nil
}

// NewNopManager returns a manager that logs nothing, traces nothing and
// records metrics on a private registry.
func NewNopManager() *Manager {
	return &Manager{
		metrics: metrics.NewPrometheusMetrics(prometheus.NewRegistry()),
		tracer:  tracing.NewNoopTracer(),
		logger:  logging.NewNop(),
	}
}

// NewManagerWith assembles a manager from existing components
func NewManagerWith(logger *logging.Logger, m *metrics.PrometheusMetrics, tracer *tracing.Tracer) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if tracer == nil {
		tracer = tracing.NewNoopTracer()
	}
	return &Manager{metrics: m, tracer: tracer, logger: logger}
}

// GetMetrics returns the metrics instance
func (m *Manager) GetMetrics() *metrics.PrometheusMetrics {
	return m.metrics
}

// GetTracer returns the tracer instance
func (m *Manager) GetTracer() *tracing.Tracer {
	return m.tracer
}

// GetLogger returns the logger instance
func (m *Manager) GetLogger() *logging.Logger {
	return m.logger
}

// RecordFetch records metrics and a log line for one data source fetch
func (m *Manager) RecordFetch(ctx context.Context, source, period string, records int, cached bool, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordFetch(source, status, duration)
	m.logger.LogFetch(ctx, source, period, records, cached, duration, err)
}

// RecordCacheMetrics records cache metrics
func (m *Manager) RecordCacheMetrics(hit bool) {
	if hit {
		m.metrics.RecordCacheHit()
	} else {
		m.metrics.RecordCacheMiss()
	}
}

// RecordRetry records metrics and a log line for one fetch retry
func (m *Manager) RecordRetry(ctx context.Context, source, reason string, attempt int) {
	m.metrics.RecordRetry(source, reason)
	m.logger.LogRetry(ctx, source, reason, attempt)
}

// RecordCircuitBreaker records a circuit breaker transition
func (m *Manager) RecordCircuitBreaker(ctx context.Context, source, from, to string) {
	switch to {
	case "open":
		m.metrics.RecordCircuitOpen(source)
	case "closed":
		m.metrics.RecordCircuitClosed(source)
	case "half-open":
		m.metrics.RecordCircuitHalfOpen(source)
	}
	m.logger.LogCircuitBreaker(ctx, source, from, to)
}

// Shutdown shuts down all observability components
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.tracer.Shutdown(ctx); err != nil {
		return err
	}
	// stdout sync fails on some terminals; not worth failing shutdown over
	_ = m.logger.Sync()
	return nil
}
