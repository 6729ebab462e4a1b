package cost

import (
	"time"

	"github.com/snow-ghost/costrecon/pkg/billing"
)

// Usage is a bag of usage metrics for one provider service and attribution
// group, keyed by metric name (usually a ratecard.UsageUnit).
type Usage struct {
	Provider       string              `json:"provider"`
	Service        string              `json:"service"`
	SKU            string              `json:"sku,omitempty"`
	Period         string              `json:"period"`
	Attribution    billing.Attribution `json:"attribution"`
	OperationCount int                 `json:"operation_count"`
	Metrics        map[string]float64  `json:"metrics"`
}

// TierCost is the slice of a rule's quantity billed inside one volume tier
type TierCost struct {
	Min          float64  `json:"min"`
	Max          *float64 `json:"max,omitempty"`
	Quantity     float64  `json:"quantity"`
	PricePerUnit float64  `json:"price_per_unit"`
	Cost         float64  `json:"cost"`
}

// CostBreakdownItem is the priced result of one pricing rule
type CostBreakdownItem struct {
	RuleID               string     `json:"rule_id"`
	RuleName             string     `json:"rule_name"`
	Unit                 string     `json:"unit"`
	Quantity             float64    `json:"quantity"`
	FreeAllowance        float64    `json:"free_allowance"`
	BillableQuantity     float64    `json:"billable_quantity"`
	PricePerUnit         float64    `json:"price_per_unit,omitempty"`
	Tiers                []TierCost `json:"tiers,omitempty"`
	MinimumChargeApplied bool       `json:"minimum_charge_applied,omitempty"`
	Cost                 float64    `json:"cost"`
}

// CostEstimate is the priced result of one Usage against one rate card.
// Breakdown costs and Subtotal are before calibration; Total is after.
type CostEstimate struct {
	RateCardID            string              `json:"rate_card_id"`
	RateCardName          string              `json:"rate_card_name"`
	Provider              string              `json:"provider"`
	Service               string              `json:"service"`
	SKU                   string              `json:"sku,omitempty"`
	Currency              string              `json:"currency"`
	Breakdown             []CostBreakdownItem `json:"breakdown"`
	Subtotal              float64             `json:"subtotal"`
	CalibrationMultiplier float64             `json:"calibration_multiplier"`
	Total                 float64             `json:"total"`
	CalculatedAt          time.Time           `json:"calculated_at"`
}

// Item returns the breakdown entry for a rule id
func (e *CostEstimate) Item(ruleID string) (CostBreakdownItem, bool) {
	for _, item := range e.Breakdown {
		if item.RuleID == ruleID {
			return item, true
		}
	}
	return CostBreakdownItem{}, false
}

// UnpricedUsage is a usage group no rate card matched
type UnpricedUsage struct {
	Provider       string `json:"provider"`
	Service        string `json:"service"`
	OperationCount int    `json:"operation_count"`
}

// OperationCosts is the result of pricing a batch of operations.
// OutOfWindow lists the ids of cards priced outside their effective window.
type OperationCosts struct {
	LineItems   []billing.LineItem `json:"line_items"`
	Estimates   []*CostEstimate    `json:"estimates"`
	Unpriced    []UnpricedUsage    `json:"unpriced,omitempty"`
	OutOfWindow []string           `json:"out_of_window,omitempty"`
}

// Config holds calculator settings. The zero value applies calibration.
type Config struct {
	Precision          int  `json:"precision"`
	DisableCalibration bool `json:"disable_calibration"`
}

// DefaultConfig returns six decimal places with calibration applied
func DefaultConfig() Config {
	return Config{
		Precision: billing.DefaultPrecision,
	}
}
