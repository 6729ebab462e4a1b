package logging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap logger with a key/value API
type Logger struct {
	zap *zap.Logger
}

// Config holds logging configuration
type Config struct {
	Level     string
	Format    string // "json" or "console"
	Output    string // "stdout" or "stderr"
	AddCaller bool
	AddStack  bool
}

// DefaultConfig returns info-level JSON logging to stdout
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

// NewLogger creates a new structured logger
func NewLogger(config Config) (*Logger, error) {
	if config.Format == "" {
		config.Format = "json"
	}
	if config.Output == "" {
		config.Output = "stdout"
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = parseZapLevel(config.Level)
	zapConfig.Encoding = config.Format
	zapConfig.OutputPaths = []string{config.Output}
	zapConfig.ErrorOutputPaths = []string{config.Output}
	zapConfig.DisableCaller = !config.AddCaller
	zapConfig.DisableStacktrace = !config.AddStack
	if config.Format == "console" {
		zapConfig.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{zap: zapLogger}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// FromZap wraps an existing zap logger
func FromZap(z *zap.Logger) *Logger {
	return &Logger{zap: z}
}

// parseZapLevel parses zap level from string
func parseZapLevel(level string) zap.AtomicLevel {
	switch level {
	case "debug":
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
}

// With adds key/value pairs to logger context
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{zap: l.zap.With(convertToZapFields(args)...)}
}

// WithFields adds fields to logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}
	return &Logger{zap: l.zap.With(zapFields...)}
}

// WithContext adds the trace and span ids of the active span, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l
	}
	return &Logger{zap: l.zap.With(
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
	)}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.zap.Debug(msg, convertToZapFields(args)...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.zap.Info(msg, convertToZapFields(args)...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.zap.Warn(msg, convertToZapFields(args)...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.zap.Error(msg, convertToZapFields(args)...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.zap.Fatal(msg, convertToZapFields(args)...)
}

// convertToZapFields converts interface{} args to zap.Field
func convertToZapFields(args []interface{}) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			if err, isErr := args[i+1].(error); isErr {
				fields = append(fields, zap.NamedError(key, err))
				continue
			}
			fields = append(fields, zap.Any(key, args[i+1]))
		}
	}
	return fields
}

// LogStatementGenerated logs a finished statement generation
func (l *Logger) LogStatementGenerated(ctx context.Context, statementID, period string, estimated, real, variancePercent float64, warnings int, duration time.Duration) {
	fields := map[string]interface{}{
		"statement_id":     statementID,
		"period":           period,
		"estimated_total":  estimated,
		"real_total":       real,
		"variance_percent": variancePercent,
		"warnings":         warnings,
		"duration_ms":      float64(duration.Nanoseconds()) / 1e6,
	}

	l.WithContext(ctx).WithFields(fields).Info("Cost statement generated")
}

// LogCalibration logs a calibration decision for one rate card
func (l *Logger) LogCalibration(ctx context.Context, rateCardID string, current, suggested, confidence float64, applied bool, reason string) {
	fields := map[string]interface{}{
		"rate_card_id":         rateCardID,
		"current_multiplier":   current,
		"suggested_multiplier": suggested,
		"confidence":           confidence,
		"applied":              applied,
		"reason":               reason,
	}

	logger := l.WithContext(ctx).WithFields(fields)
	if applied {
		logger.Info("Calibration applied")
	} else {
		logger.Debug("Calibration not applied")
	}
}

// LogFetch logs a data source fetch
func (l *Logger) LogFetch(ctx context.Context, source, period string, records int, cached bool, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"source":      source,
		"period":      period,
		"records":     records,
		"cached":      cached,
		"duration_ms": float64(duration.Nanoseconds()) / 1e6,
	}

	logger := l.WithContext(ctx).WithFields(fields)
	if err != nil {
		logger.Error("Data source fetch failed", "error", err)
		return
	}
	logger.Info("Data source fetch completed")
}

// LogRetry logs a retry operation
func (l *Logger) LogRetry(ctx context.Context, source, reason string, attempt int) {
	fields := map[string]interface{}{
		"source":  source,
		"reason":  reason,
		"attempt": attempt,
	}

	l.WithContext(ctx).WithFields(fields).Warn("Fetch retry")
}

// LogCircuitBreaker logs a circuit breaker operation
func (l *Logger) LogCircuitBreaker(ctx context.Context, source, from, to string) {
	fields := map[string]interface{}{
		"source": source,
		"from":   from,
		"to":     to,
	}

	l.WithContext(ctx).WithFields(fields).Warn("Circuit breaker state changed")
}

// Sync syncs the logger
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
