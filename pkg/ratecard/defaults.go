package ratecard

import "time"

var publishedPricingDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// CloudRunRateCard prices Cloud Run request-based billing with the monthly free tier
func CloudRunRateCard() *RateCard {
	return &RateCard{
		ID:            "gcp-cloud-run-v1",
		Name:          "Cloud Run (request-based)",
		Provider:      "gcp",
		Service:       "cloud-run",
		Version:       "2024-01",
		EffectiveDate: publishedPricingDate,
		Currency:      "USD",
		Rules: []PricingRule{
			{
				ID:            "cpu",
				Name:          "vCPU time",
				Unit:          UnitCPUSeconds,
				PricePerUnit:  Float(0.000024),
				FreeAllowance: Float(180000),
			},
			{
				ID:            "memory",
				Name:          "Memory time",
				Unit:          UnitMemoryGBSeconds,
				PricePerUnit:  Float(0.0000025),
				FreeAllowance: Float(360000),
			},
			{
				ID:            "requests",
				Name:          "Requests",
				Unit:          UnitRequests,
				PricePerUnit:  Float(0.0000004),
				FreeAllowance: Float(2000000),
			},
		},
		CalibrationMultiplier: 1.0,
	}
}

// FirestoreRateCard prices Firestore document operations; free allowances are the
// daily free quota over a 30 day month.
func FirestoreRateCard() *RateCard {
	return &RateCard{
		ID:            "gcp-firestore-v1",
		Name:          "Firestore (native mode)",
		Provider:      "gcp",
		Service:       "firestore",
		Version:       "2024-01",
		EffectiveDate: publishedPricingDate,
		Currency:      "USD",
		Rules: []PricingRule{
			{
				ID:            "reads",
				Name:          "Document reads",
				Unit:          UnitReads,
				PricePerUnit:  Float(0.0000006),
				FreeAllowance: Float(1500000),
			},
			{
				ID:            "writes",
				Name:          "Document writes",
				Unit:          UnitWrites,
				PricePerUnit:  Float(0.0000018),
				FreeAllowance: Float(600000),
			},
			{
				ID:            "deletes",
				Name:          "Document deletes",
				Unit:          UnitDeletes,
				PricePerUnit:  Float(0.0000002),
				FreeAllowance: Float(600000),
			},
		},
		CalibrationMultiplier: 1.0,
	}
}

// CloudStorageRateCard prices Cloud Storage operations and tiered internet egress
func CloudStorageRateCard() *RateCard {
	return &RateCard{
		ID:            "gcp-cloud-storage-v1",
		Name:          "Cloud Storage (standard)",
		Provider:      "gcp",
		Service:       "cloud-storage",
		Version:       "2024-01",
		EffectiveDate: publishedPricingDate,
		Currency:      "USD",
		Rules: []PricingRule{
			{
				ID:   "egress",
				Name: "Internet egress",
				Unit: UnitEgressGB,
				Tiers: []VolumeTier{
					{Min: 0, Max: Float(1), PricePerUnit: 0},
					{Min: 1, Max: Float(10240), PricePerUnit: 0.12},
					{Min: 10240, PricePerUnit: 0.08},
				},
			},
			{
				ID:           "class-a",
				Name:         "Class A operations",
				Unit:         UnitWrites,
				PricePerUnit: Float(0.000005),
			},
			{
				ID:           "class-b",
				Name:         "Class B operations",
				Unit:         UnitReads,
				PricePerUnit: Float(0.0000004),
			},
			{
				ID:            "storage",
				Name:          "Standard storage",
				Unit:          UnitStorageGBMonth,
				PricePerUnit:  Float(0.02),
				FreeAllowance: Float(5),
			},
		},
		CalibrationMultiplier: 1.0,
	}
}

// GeminiRateCard prices Vertex AI Gemini tokens for a model sku
func GeminiRateCard(sku string, inputPerToken, outputPerToken float64) *RateCard {
	return &RateCard{
		ID:            "gcp-vertex-ai-" + sku,
		Name:          "Vertex AI " + sku,
		Provider:      "gcp",
		Service:       "vertex-ai",
		SKU:           sku,
		Version:       "2024-01",
		EffectiveDate: publishedPricingDate,
		Currency:      "USD",
		Rules: []PricingRule{
			{
				ID:           "input",
				Name:         "Input tokens",
				Unit:         UnitInputTokens,
				PricePerUnit: Float(inputPerToken),
			},
			{
				ID:           "output",
				Name:         "Output tokens",
				Unit:         UnitOutputTokens,
				PricePerUnit: Float(outputPerToken),
			},
		},
		CalibrationMultiplier: 1.0,
		Metadata:              map[string]string{"model": sku},
	}
}

// DefaultGCPRateCards returns the built-in GCP pricing definitions. The flash
// card is registered first so it owns the sku-less vertex-ai fallback.
func DefaultGCPRateCards() []*RateCard {
	return []*RateCard{
		CloudRunRateCard(),
		FirestoreRateCard(),
		CloudStorageRateCard(),
		GeminiRateCard("gemini-1.5-flash", 0.000000075, 0.0000003),
		GeminiRateCard("gemini-1.5-pro", 0.00000125, 0.000005),
	}
}

// NewDefaultRegistry creates a registry preloaded with DefaultGCPRateCards
func NewDefaultRegistry(config Config) (*Registry, error) {
	registry := NewRegistry(config)
	for _, card := range DefaultGCPRateCards() {
		if err := registry.Register(card); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
