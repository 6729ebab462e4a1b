package billing

import (
	"strings"

	"github.com/google/uuid"
)

// Label keys billing exports use for attribution
const (
	LabelTenantID    = "tenant_id"
	LabelFeature     = "feature"
	LabelEnvironment = "env"
)

// Normalizer turns billing export rows into real-cost line items
type Normalizer struct {
	DefaultProvider string
	DefaultCurrency string
	Precision       int
}

// NewNormalizer creates a normalizer with GCP/USD defaults
func NewNormalizer(precision int) *Normalizer {
	return &Normalizer{
		DefaultProvider: "gcp",
		DefaultCurrency: "USD",
		Precision:       precision,
	}
}

// Normalize converts one billing record into a LineItem tagged real
func (n *Normalizer) Normalize(record Record, period Period) LineItem {
	provider := record.Provider
	if provider == "" {
		provider = n.DefaultProvider
	}
	currency := record.Currency
	if currency == "" {
		currency = n.DefaultCurrency
	}
	service := record.ServiceName
	if service == "" {
		service = record.ServiceID
	}

	unitCost := 0.0
	if record.UsageAmount > 0 {
		unitCost = record.Cost / record.UsageAmount
	}

	return LineItem{
		ID:          uuid.NewString(),
		Source:      SourceReal,
		Period:      period.Key,
		Provider:    NormalizeKey(provider),
		Service:     NormalizeKey(service),
		SKU:         record.SKUID,
		Description: record.SKUDescription,
		Attribution: Attribution{
			TenantID:    record.Labels[LabelTenantID],
			Feature:     record.Labels[LabelFeature],
			Environment: record.Labels[LabelEnvironment],
		},
		Quantity:        record.UsageAmount,
		Unit:            record.UsageUnit,
		UnitCost:        Round(unitCost, n.Precision),
		TotalCost:       Round(record.Cost, n.Precision),
		Currency:        currency,
		BillingRecordID: record.ID,
	}
}

// NormalizeAll converts a batch of billing records
func (n *Normalizer) NormalizeAll(records []Record, period Period) []LineItem {
	items := make([]LineItem, 0, len(records))
	for _, record := range records {
		items = append(items, n.Normalize(record, period))
	}
	return items
}

// NormalizeKey lowercases a provider or service name and hyphenates it, so
// "Cloud Run" and "cloud-run" aggregate together.
func NormalizeKey(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(name)), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	})
	return strings.Join(fields, "-")
}
