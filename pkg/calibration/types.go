package calibration

import (
	"time"

	"github.com/snow-ghost/costrecon/pkg/billing"
	"github.com/snow-ghost/costrecon/pkg/ratecard"
)

// Result is the calibration analysis of one rate card against one statement
type Result struct {
	RateCardID          string  `json:"rate_card_id"`
	Provider            string  `json:"provider"`
	Service             string  `json:"service"`
	CurrentMultiplier   float64 `json:"current_multiplier"`
	SuggestedMultiplier float64 `json:"suggested_multiplier"`
	EstimatedTotal      float64 `json:"estimated_total"`
	RealTotal           float64 `json:"real_total"`
	Variance            float64 `json:"variance"`
	VariancePercent     float64 `json:"variance_percent"`
	Confidence          float64 `json:"confidence"`
	SampleSize          int     `json:"sample_size"`
	NeedsCalibration    bool    `json:"needs_calibration"`
	Applied             bool    `json:"applied"`
	Reason              string  `json:"reason"`
}

// Summary aggregates the results of one report
type Summary struct {
	TotalRateCards         int     `json:"total_rate_cards"`
	NeedingCalibration     int     `json:"needing_calibration"`
	Applied                int     `json:"applied"`
	AverageVariancePercent float64 `json:"average_variance_percent"`
}

// Report is the calibration analysis of a whole statement
type Report struct {
	StatementID     string                     `json:"statement_id"`
	Period          string                     `json:"period"`
	GeneratedAt     time.Time                  `json:"generated_at"`
	Results         []Result                   `json:"results"`
	Summary         Summary                    `json:"summary"`
	Recommendations []string                   `json:"recommendations"`
	DataPoints      []ratecard.CalibrationData `json:"data_points"`
}

// ApplyOptions controls which results ApplyCalibrations writes back.
// A non-positive MinConfidence uses Config.MinConfidence.
type ApplyOptions struct {
	MinConfidence float64 `json:"min_confidence"`
	Force         bool    `json:"force"`
}

// Trend classifies how a rate card's variance moves over its history
type Trend string

const (
	TrendInsufficientData Trend = "insufficient_data"
	TrendImproving        Trend = "improving"
	TrendWorsening        Trend = "worsening"
	TrendStable           Trend = "stable"
)

// TrendReport compares the older and recent halves of a card's history
type TrendReport struct {
	RateCardID         string  `json:"rate_card_id"`
	Trend              Trend   `json:"trend"`
	DataPoints         int     `json:"data_points"`
	OlderMeanVariance  float64 `json:"older_mean_variance"`
	RecentMeanVariance float64 `json:"recent_mean_variance"`
}

// Config holds calibration service settings
type Config struct {
	VarianceThreshold          float64 `json:"variance_threshold"`
	MaxChange                  float64 `json:"max_change"`
	MinSampleSize              int     `json:"min_sample_size"`
	DampingFactor              float64 `json:"damping_factor"`
	AssumedAvgCostPerOperation float64 `json:"assumed_avg_cost_per_operation"`
	MinConfidence              float64 `json:"min_confidence"`
	Precision                  int     `json:"precision"`
}

// DefaultConfig returns a 5% variance threshold, 20% max change, 100 sample
// minimum, 0.5 damping, $0.001 per operation and 0.8 minimum confidence.
func DefaultConfig() Config {
	return Config{
		VarianceThreshold:          0.05,
		MaxChange:                  0.2,
		MinSampleSize:              100,
		DampingFactor:              0.5,
		AssumedAvgCostPerOperation: 0.001,
		MinConfidence:              0.8,
		Precision:                  billing.DefaultPrecision,
	}
}

const (
	averageVarianceRecommendation = 15.0
	cardVarianceRecommendation    = 25.0
	improvingFactor               = 0.8
	worseningFactor               = 1.2
)
