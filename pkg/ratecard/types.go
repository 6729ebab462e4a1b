package ratecard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/snow-ghost/costrecon/pkg/billing"
)

// UsageUnit identifies the usage dimension a pricing rule bills on
type UsageUnit string

const (
	UnitRequests        UsageUnit = "requests"
	UnitOperations      UsageUnit = "operations"
	UnitDurationMs      UsageUnit = "duration_ms"
	UnitCPUSeconds      UsageUnit = "cpu_seconds"
	UnitMemoryGBSeconds UsageUnit = "memory_gb_seconds"
	UnitReads           UsageUnit = "reads"
	UnitWrites          UsageUnit = "writes"
	UnitDeletes         UsageUnit = "deletes"
	UnitEgressGB        UsageUnit = "egress_gb"
	UnitStorageGBMonth  UsageUnit = "storage_gb_month"
	UnitInputTokens     UsageUnit = "input_tokens"
	UnitOutputTokens    UsageUnit = "output_tokens"
	UnitTokens          UsageUnit = "tokens"
	UnitCustom          UsageUnit = "custom"
)

// VolumeTier is one quantity band of a tiered rule. Min is inclusive, Max is
// exclusive and nil means unbounded.
type VolumeTier struct {
	Min          float64  `json:"min" yaml:"min"`
	Max          *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	PricePerUnit float64  `json:"price_per_unit" yaml:"price_per_unit"`
}

// Width returns the tier size, +Inf when unbounded.
func (t VolumeTier) Width() float64 {
	if t.Max == nil {
		return posInf
	}
	return *t.Max - t.Min
}

// PricingRule is one billable dimension of a rate card
type PricingRule struct {
	ID            string       `json:"id" yaml:"id"`
	Name          string       `json:"name" yaml:"name"`
	Unit          UsageUnit    `json:"unit" yaml:"unit"`
	CustomUnit    string       `json:"custom_unit,omitempty" yaml:"custom_unit,omitempty"`
	PricePerUnit  *float64     `json:"price_per_unit,omitempty" yaml:"price_per_unit,omitempty"`
	Tiers         []VolumeTier `json:"tiers,omitempty" yaml:"tiers,omitempty"`
	MinimumCharge *float64     `json:"minimum_charge,omitempty" yaml:"minimum_charge,omitempty"`
	FreeAllowance *float64     `json:"free_allowance,omitempty" yaml:"free_allowance,omitempty"`
}

// SortedTiers returns a copy of the tiers ordered ascending by Min.
func (r PricingRule) SortedTiers() []VolumeTier {
	tiers := make([]VolumeTier, len(r.Tiers))
	copy(tiers, r.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].Min < tiers[j].Min
	})
	return tiers
}

// MetricKeys returns the usage metric names the rule reads from, in lookup order.
func (r PricingRule) MetricKeys() []string {
	keys := []string{string(r.Unit)}
	if r.CustomUnit != "" {
		keys = append(keys, r.CustomUnit)
	}
	if r.ID != "" {
		keys = append(keys, r.ID)
	}
	return keys
}

// RateCard describes the pricing rules of one provider service (optionally a single SKU)
type RateCard struct {
	ID                    string            `json:"id" yaml:"id"`
	Name                  string            `json:"name" yaml:"name"`
	Provider              string            `json:"provider" yaml:"provider"`
	Service               string            `json:"service" yaml:"service"`
	SKU                   string            `json:"sku,omitempty" yaml:"sku,omitempty"`
	Version               string            `json:"version" yaml:"version"`
	EffectiveDate         time.Time         `json:"effective_date" yaml:"effective_date"`
	ExpirationDate        *time.Time        `json:"expiration_date,omitempty" yaml:"expiration_date,omitempty"`
	Currency              string            `json:"currency" yaml:"currency"`
	Rules                 []PricingRule     `json:"rules" yaml:"rules"`
	CalibrationMultiplier float64           `json:"calibration_multiplier" yaml:"calibration_multiplier"`
	LastCalibratedAt      *time.Time        `json:"last_calibrated_at,omitempty" yaml:"last_calibrated_at,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsEffective reports whether the card's pricing window covers t
func (c *RateCard) IsEffective(t time.Time) bool {
	if !c.EffectiveDate.IsZero() && t.Before(c.EffectiveDate) {
		return false
	}
	if c.ExpirationDate != nil && !t.Before(*c.ExpirationDate) {
		return false
	}
	return true
}

// Clone returns a deep copy so callers never share mutable state with the registry.
func (c *RateCard) Clone() *RateCard {
	out := *c
	if c.ExpirationDate != nil {
		exp := *c.ExpirationDate
		out.ExpirationDate = &exp
	}
	if c.LastCalibratedAt != nil {
		last := *c.LastCalibratedAt
		out.LastCalibratedAt = &last
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Rules = make([]PricingRule, len(c.Rules))
	for i, rule := range c.Rules {
		out.Rules[i] = rule.clone()
	}
	return &out
}

func (r PricingRule) clone() PricingRule {
	out := r
	out.PricePerUnit = cloneFloat(r.PricePerUnit)
	out.MinimumCharge = cloneFloat(r.MinimumCharge)
	out.FreeAllowance = cloneFloat(r.FreeAllowance)
	if r.Tiers != nil {
		out.Tiers = make([]VolumeTier, len(r.Tiers))
		for i, tier := range r.Tiers {
			out.Tiers[i] = VolumeTier{Min: tier.Min, Max: cloneFloat(tier.Max), PricePerUnit: tier.PricePerUnit}
		}
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}

// Float returns a pointer to v, for building optional rule fields.
func Float(v float64) *float64 {
	return &v
}

// CalibrationData is one estimate-vs-real observation for a rate card and period
type CalibrationData struct {
	RateCardID          string    `json:"rate_card_id" yaml:"rate_card_id"`
	Period              string    `json:"period" yaml:"period"`
	EstimatedTotal      float64   `json:"estimated_total" yaml:"estimated_total"`
	RealTotal           float64   `json:"real_total" yaml:"real_total"`
	Variance            float64   `json:"variance" yaml:"variance"`
	VariancePercent     float64   `json:"variance_percent" yaml:"variance_percent"`
	SuggestedMultiplier float64   `json:"suggested_multiplier" yaml:"suggested_multiplier"`
	Confidence          float64   `json:"confidence" yaml:"confidence"`
	SampleSize          int       `json:"sample_size" yaml:"sample_size"`
	CalculatedAt        time.Time `json:"calculated_at" yaml:"calculated_at"`
}

// Suggestion is the registry's history-based multiplier proposal
type Suggestion struct {
	RateCardID             string  `json:"rate_card_id"`
	CurrentMultiplier      float64 `json:"current_multiplier"`
	SuggestedMultiplier    float64 `json:"suggested_multiplier"`
	AverageVariancePercent float64 `json:"average_variance_percent"`
	Confidence             float64 `json:"confidence"`
	SampleSize             int     `json:"sample_size"`
}

// Config holds registry calibration settings
type Config struct {
	MaxChange               float64 `json:"max_change" yaml:"max_change"`
	LookbackPeriods         int     `json:"lookback_periods" yaml:"lookback_periods"`
	VarianceThreshold       float64 `json:"variance_threshold" yaml:"variance_threshold"`
	MinSampleSize           int     `json:"min_sample_size" yaml:"min_sample_size"`
	AutoCalibrateConfidence float64 `json:"auto_calibrate_confidence" yaml:"auto_calibrate_confidence"`
}

// DefaultConfig returns the default calibration settings
func DefaultConfig() Config {
	return Config{
		MaxChange:               0.2,
		LookbackPeriods:         3,
		VarianceThreshold:       0.05,
		MinSampleSize:           100,
		AutoCalibrateConfidence: 0.8,
	}
}

// lookupKey builds the provider:service:sku index key; "*" stands for no sku.
// Provider and service go through billing.NormalizeKey so the index agrees
// with the keys operations and billing records aggregate under.
func lookupKey(provider, service, sku string) string {
	if sku == "" {
		sku = "*"
	}
	return fmt.Sprintf("%s:%s:%s", billing.NormalizeKey(provider), billing.NormalizeKey(service), strings.ToLower(sku))
}
