package statement

import (
	"time"

	"github.com/snow-ghost/costrecon/pkg/billing"
	"github.com/snow-ghost/costrecon/pkg/datasource"
)

// UnattributedKey buckets line items without a tenant or feature
const UnattributedKey = "_unattributed"

// Totals is the estimate vs real comparison of a slice of line items
type Totals struct {
	EstimatedCost   float64 `json:"estimated_cost"`
	RealCost        float64 `json:"real_cost"`
	Variance        float64 `json:"variance"`
	VariancePercent float64 `json:"variance_percent"`
	LineItemCount   int     `json:"line_item_count"`
}

// ProviderSummary is a provider's totals with a per-service breakdown
type ProviderSummary struct {
	Totals
	Services map[string]*Totals `json:"services"`
}

// DataSourceInfo records one source consulted for a statement
type DataSourceInfo struct {
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	RecordCount int       `json:"record_count"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// CostStatement is the unified estimate vs real report of one period. It is
// built whole by the generator and not modified afterwards.
type CostStatement struct {
	ID              string                      `json:"id"`
	Period          string                      `json:"period"`
	GeneratedAt     time.Time                   `json:"generated_at"`
	Currency        string                      `json:"currency"`
	EstimatedTotal  float64                     `json:"estimated_total"`
	RealTotal       float64                     `json:"real_total"`
	Variance        float64                     `json:"variance"`
	VariancePercent float64                     `json:"variance_percent"`
	ByProvider      map[string]*ProviderSummary `json:"by_provider"`
	ByTenant        map[string]*Totals          `json:"by_tenant"`
	ByFeature       map[string]*Totals          `json:"by_feature"`

	LineItems          []billing.LineItem `json:"line_items"`
	EstimatedLineItems []billing.LineItem `json:"estimated_line_items"`
	RealLineItems      []billing.LineItem `json:"real_line_items"`

	DataSources   []DataSourceInfo `json:"data_sources"`
	RateCardsUsed []string         `json:"rate_cards_used"`
	Warnings      []string         `json:"warnings"`
}

// Request selects what a generation includes
type Request struct {
	Period           string              `json:"period"`
	IncludeEstimates bool                `json:"include_estimates"`
	IncludeReal      bool                `json:"include_real"`
	Sources          datasource.Selector `json:"sources"`
}

// Config holds generator settings
type Config struct {
	Precision              int           `json:"precision"`
	Currency               string        `json:"currency"`
	FetchTimeout           time.Duration `json:"fetch_timeout"`
	VarianceWarningPercent float64       `json:"variance_warning_percent"`
}

// DefaultConfig returns 6-place precision, USD, a 30s fetch timeout and a
// 20% variance warning threshold.
func DefaultConfig() Config {
	return Config{
		Precision:              billing.DefaultPrecision,
		Currency:               "USD",
		FetchTimeout:           30 * time.Second,
		VarianceWarningPercent: 20,
	}
}
