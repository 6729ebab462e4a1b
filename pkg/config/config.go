package config

import (
	"os"
	"strconv"
	"time"

	"github.com/snow-ghost/costrecon/pkg/accounting"
	"github.com/snow-ghost/costrecon/pkg/calibration"
	"github.com/snow-ghost/costrecon/pkg/cost"
	"github.com/snow-ghost/costrecon/pkg/limiter"
	"github.com/snow-ghost/costrecon/pkg/observability"
	"github.com/snow-ghost/costrecon/pkg/ratecard"
	"github.com/snow-ghost/costrecon/pkg/statement"
)

// ServiceName identifies the reconciler in logs and traces
const ServiceName = "costrecon"

// Config holds configuration for the reconciler
type Config struct {
	LogLevel           string
	LogFormat          string
	ServiceEnvironment string
	ServiceVersion     string

	Precision        int
	Currency         string
	ApplyCalibration bool

	CalibrationMaxChange         float64
	CalibrationLookbackPeriods   int
	CalibrationVarianceThreshold float64
	CalibrationMinSampleSize     int
	CalibrationMinConfidence     float64
	CalibrationAutoApply         bool

	FetchTimeout       time.Duration
	FetchMaxRetries    int
	FetchRatePerSecond float64
	FetchCacheTTL      time.Duration
	FetchCacheSize     int

	StoreBackend string
	SQLitePath   string

	RateCardsFile  string
	OperationsFile string
	BillingFile    string
	Period         string

	JaegerEndpoint string
	MetricsAddr    string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		ServiceEnvironment: getEnv("SERVICE_ENVIRONMENT", "development"),
		ServiceVersion:     getEnv("SERVICE_VERSION", "dev"),

		Precision:        getEnvInt("COST_PRECISION", 6),
		Currency:         getEnv("COST_CURRENCY", "USD"),
		ApplyCalibration: getEnvBool("APPLY_CALIBRATION", true),

		CalibrationMaxChange:         getEnvFloat("CALIBRATION_MAX_CHANGE", 0.2),
		CalibrationLookbackPeriods:   getEnvInt("CALIBRATION_LOOKBACK_PERIODS", 3),
		CalibrationVarianceThreshold: getEnvFloat("CALIBRATION_VARIANCE_THRESHOLD", 0.05),
		CalibrationMinSampleSize:     getEnvInt("CALIBRATION_MIN_SAMPLE_SIZE", 100),
		CalibrationMinConfidence:     getEnvFloat("CALIBRATION_MIN_CONFIDENCE", 0.8),
		CalibrationAutoApply:         getEnvBool("CALIBRATION_AUTO_APPLY", false),

		FetchTimeout:       getEnvDuration("FETCH_TIMEOUT", "30s"),
		FetchMaxRetries:    getEnvInt("FETCH_MAX_RETRIES", 3),
		FetchRatePerSecond: getEnvFloat("FETCH_RATE_PER_SECOND", 10),
		FetchCacheTTL:      getEnvDuration("FETCH_CACHE_TTL", "10m"),
		FetchCacheSize:     getEnvInt("FETCH_CACHE_SIZE", 256),

		StoreBackend: getEnv("STORE_BACKEND", accounting.BackendMemory),
		SQLitePath:   getEnv("SQLITE_PATH", "./costrecon.db"),

		RateCardsFile:  getEnv("RATE_CARDS_FILE", ""),
		OperationsFile: getEnv("OPERATIONS_FILE", ""),
		BillingFile:    getEnv("BILLING_FILE", ""),
		Period:         getEnv("PERIOD", ""),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),
	}
}

// RateCardConfig derives the registry settings
func (c *Config) RateCardConfig() ratecard.Config {
	config := ratecard.DefaultConfig()
	config.MaxChange = c.CalibrationMaxChange
	config.LookbackPeriods = c.CalibrationLookbackPeriods
	config.VarianceThreshold = c.CalibrationVarianceThreshold
	config.MinSampleSize = c.CalibrationMinSampleSize
	config.AutoCalibrateConfidence = c.CalibrationMinConfidence
	return config
}

// CostConfig derives the calculator settings
func (c *Config) CostConfig() cost.Config {
	return cost.Config{
		Precision:          c.Precision,
		DisableCalibration: !c.ApplyCalibration,
	}
}

// CalibrationConfig derives the calibration service settings
func (c *Config) CalibrationConfig() calibration.Config {
	config := calibration.DefaultConfig()
	config.MaxChange = c.CalibrationMaxChange
	config.VarianceThreshold = c.CalibrationVarianceThreshold
	config.MinSampleSize = c.CalibrationMinSampleSize
	config.MinConfidence = c.CalibrationMinConfidence
	config.Precision = c.Precision
	return config
}

// StatementConfig derives the generator settings
func (c *Config) StatementConfig() statement.Config {
	config := statement.DefaultConfig()
	config.Precision = c.Precision
	config.Currency = c.Currency
	config.FetchTimeout = c.FetchTimeout
	return config
}

// AccountingConfig derives the store settings
func (c *Config) AccountingConfig() accounting.Config {
	return accounting.Config{
		Backend: c.StoreBackend,
		DBPath:  c.SQLitePath,
	}
}

// ProtectionConfig derives the fetch protection settings
func (c *Config) ProtectionConfig() limiter.ProtectionConfig {
	config := limiter.DefaultProtectionConfig()
	config.Retry.MaxRetries = c.FetchMaxRetries
	config.RateLimit.RatePerSecond = c.FetchRatePerSecond
	return config
}

// ObservabilityConfig derives the logging and tracing settings
func (c *Config) ObservabilityConfig() observability.Config {
	return observability.Config{
		ServiceName:    ServiceName,
		ServiceVersion: c.ServiceVersion,
		Environment:    c.ServiceEnvironment,
		JaegerEndpoint: c.JaegerEndpoint,
		LogLevel:       c.LogLevel,
		LogFormat:      c.LogFormat,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
