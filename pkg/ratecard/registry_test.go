package ratecard

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCard(id, provider, service, sku string) *RateCard {
	return &RateCard{
		ID:       id,
		Name:     id,
		Provider: provider,
		Service:  service,
		SKU:      sku,
		Currency: "USD",
		Rules: []PricingRule{
			{ID: "requests", Name: "Requests", Unit: UnitRequests, PricePerUnit: Float(0.001)},
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	t.Run("defaults multiplier and indexes card", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))

		card := registry.FindByID("run")
		require.NotNil(t, card)
		assert.Equal(t, 1.0, card.CalibrationMultiplier)
		assert.Empty(t, registry.History("run"))
	})

	t.Run("missing fields", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		for _, card := range []*RateCard{
			testCard("", "gcp", "cloud-run", ""),
			testCard("a", "", "cloud-run", ""),
			testCard("b", "gcp", "", ""),
		} {
			err := registry.Register(card)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingField)
		}
		assert.Equal(t, 0, registry.Len())
	})

	t.Run("duplicate id", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))
		err := registry.Register(testCard("run", "aws", "lambda", ""))
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("overlapping tiers rejected", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		card := testCard("egress", "gcp", "cloud-storage", "")
		card.Rules = []PricingRule{{
			ID:   "egress",
			Unit: UnitEgressGB,
			Tiers: []VolumeTier{
				{Min: 0, Max: Float(10), PricePerUnit: 0.1},
				{Min: 5, Max: Float(20), PricePerUnit: 0.05},
			},
		}}
		assert.ErrorIs(t, registry.Register(card), ErrInvalidTiers)
	})

	t.Run("unsorted contiguous tiers accepted", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		card := testCard("egress", "gcp", "cloud-storage", "")
		card.Rules = []PricingRule{{
			ID:   "egress",
			Unit: UnitEgressGB,
			Tiers: []VolumeTier{
				{Min: 10, PricePerUnit: 0.05},
				{Min: 0, Max: Float(10), PricePerUnit: 0.1},
			},
		}}
		assert.NoError(t, registry.Register(card))
	})

	t.Run("custom unit requires name", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		card := testCard("custom", "gcp", "pubsub", "")
		card.Rules = []PricingRule{{ID: "msgs", Unit: UnitCustom, PricePerUnit: Float(0.1)}}
		assert.ErrorIs(t, registry.Register(card), ErrInvalidRule)
	})

	t.Run("registered card is isolated from caller", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		card := testCard("run", "gcp", "cloud-run", "")
		require.NoError(t, registry.Register(card))

		card.Rules[0].Name = "mutated"
		found := registry.FindByID("run")
		found.CalibrationMultiplier = 9

		stored := registry.FindByID("run")
		assert.Equal(t, "Requests", stored.Rules[0].Name)
		assert.Equal(t, 1.0, stored.CalibrationMultiplier)
	})
}

func TestRegistry_Find(t *testing.T) {
	registry := NewRegistry(DefaultConfig())
	require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))
	require.NoError(t, registry.Register(testCard("flash", "gcp", "vertex-ai", "gemini-flash")))
	require.NoError(t, registry.Register(testCard("pro", "gcp", "vertex-ai", "gemini-pro")))

	t.Run("case insensitive", func(t *testing.T) {
		card := registry.Find("GCP", "CLOUD-RUN", "")
		require.NotNil(t, card)
		assert.Equal(t, "run", card.ID)
	})

	t.Run("exact sku", func(t *testing.T) {
		card := registry.Find("gcp", "vertex-ai", "gemini-pro")
		require.NotNil(t, card)
		assert.Equal(t, "pro", card.ID)
	})

	t.Run("sku fallback goes to first writer", func(t *testing.T) {
		card := registry.Find("gcp", "vertex-ai", "")
		require.NotNil(t, card)
		assert.Equal(t, "flash", card.ID)

		card = registry.Find("gcp", "vertex-ai", "gemini-ultra")
		require.NotNil(t, card)
		assert.Equal(t, "flash", card.ID)
	})

	t.Run("sku on sku-less card falls back", func(t *testing.T) {
		card := registry.Find("gcp", "cloud-run", "some-sku")
		require.NotNil(t, card)
		assert.Equal(t, "run", card.ID)
	})

	t.Run("miss returns nil", func(t *testing.T) {
		assert.Nil(t, registry.Find("aws", "lambda", ""))
		assert.Nil(t, registry.FindByID("nope"))
	})

	t.Run("list for provider", func(t *testing.T) {
		assert.Len(t, registry.ListFor("Gcp"), 3)
		assert.Empty(t, registry.ListFor("aws"))
	})
}

func TestRegistry_FindNormalizesNames(t *testing.T) {
	registry := NewRegistry(DefaultConfig())
	require.NoError(t, registry.Register(testCard("run", "GCP", "Cloud Run", "")))
	require.NoError(t, registry.Register(testCard("flash", "GCP", "Vertex_AI", "Gemini-Flash")))

	tests := []struct {
		name     string
		provider string
		service  string
		sku      string
		want     string
	}{
		{name: "hyphenated", provider: "gcp", service: "cloud-run", want: "run"},
		{name: "as registered", provider: "GCP", service: "Cloud Run", want: "run"},
		{name: "underscored", provider: "gcp", service: "CLOUD_RUN", want: "run"},
		{name: "sku case", provider: "gcp", service: "vertex-ai", sku: "gemini-flash", want: "flash"},
		{name: "sku fallback", provider: "gcp", service: "Vertex AI", want: "flash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := registry.Find(tt.provider, tt.service, tt.sku)
			require.NotNil(t, card)
			assert.Equal(t, tt.want, card.ID)
		})
	}

	assert.Len(t, registry.ListFor("gcp"), 2)
	assert.True(t, registry.Remove("run"))
	assert.Nil(t, registry.Find("gcp", "cloud-run", ""))
}

func TestRegistry_Remove(t *testing.T) {
	t.Run("remove then lookup", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))
		require.NoError(t, registry.Register(testCard("fs", "gcp", "firestore", "")))
		before := len(registry.List())

		assert.True(t, registry.Remove("run"))
		assert.Nil(t, registry.FindByID("run"))
		assert.Nil(t, registry.Find("gcp", "cloud-run", ""))
		assert.Len(t, registry.List(), before-1)
		assert.False(t, registry.Remove("run"))
	})

	t.Run("fallback kept when owned by another card", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		require.NoError(t, registry.Register(testCard("flash", "gcp", "vertex-ai", "flash")))
		require.NoError(t, registry.Register(testCard("pro", "gcp", "vertex-ai", "pro")))

		assert.True(t, registry.Remove("pro"))
		card := registry.Find("gcp", "vertex-ai", "")
		require.NotNil(t, card)
		assert.Equal(t, "flash", card.ID)
	})

	t.Run("fallback dropped with its owner", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		require.NoError(t, registry.Register(testCard("flash", "gcp", "vertex-ai", "flash")))
		require.NoError(t, registry.Register(testCard("pro", "gcp", "vertex-ai", "pro")))

		assert.True(t, registry.Remove("flash"))
		assert.Nil(t, registry.Find("gcp", "vertex-ai", ""))
		assert.NotNil(t, registry.Find("gcp", "vertex-ai", "pro"))
	})

	t.Run("clear drops cards and history", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))
		registry.AddCalibrationData(CalibrationData{RateCardID: "run", VariancePercent: 10})

		registry.Clear()
		assert.Equal(t, 0, registry.Len())
		assert.Empty(t, registry.History("run"))
	})
}

func TestRegistry_Calibrate(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		target   float64
		expected float64
	}{
		{name: "within bound", target: 1.1, expected: 1.1},
		{name: "clamped up", target: 2.0, expected: 1.2},
		{name: "clamped down", target: 0.1, expected: 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry(DefaultConfig())
			registry.now = func() time.Time { return fixed }
			require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))

			assert.True(t, registry.Calibrate("run", tt.target))
			card := registry.FindByID("run")
			assert.InDelta(t, tt.expected, card.CalibrationMultiplier, 1e-9)
			require.NotNil(t, card.LastCalibratedAt)
			assert.Equal(t, fixed, *card.LastCalibratedAt)
		})
	}

	t.Run("unknown id", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		assert.False(t, registry.Calibrate("missing", 1.1))
	})

	t.Run("concurrent calls respect per-call bound", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))

		const workers = 20
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				registry.Calibrate("run", 100)
			}()
		}
		wg.Wait()

		card := registry.FindByID("run")
		assert.InDelta(t, 1.0+workers*0.2, card.CalibrationMultiplier, 1e-9)
	})
}

func TestRegistry_CalibrationHistory(t *testing.T) {
	t.Run("trimmed to twice the lookback", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))

		for i := 0; i < 10; i++ {
			registry.AddCalibrationData(CalibrationData{RateCardID: "run", Period: fmt.Sprintf("2024-%02d", i+1)})
		}
		history := registry.History("run")
		require.Len(t, history, 6)
		assert.Equal(t, "2024-05", history[0].Period)
		assert.Equal(t, "2024-10", history[5].Period)

		registry.ClearHistory("run")
		assert.Empty(t, registry.History("run"))
	})

	t.Run("suggestion needs full lookback", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))
		registry.AddCalibrationData(CalibrationData{RateCardID: "run", VariancePercent: 30, SampleSize: 500})
		registry.AddCalibrationData(CalibrationData{RateCardID: "run", VariancePercent: 30, SampleSize: 500})

		assert.Nil(t, registry.CalculateSuggestedCalibration("run"))
	})

	t.Run("weighted suggestion", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))
		// ignored: older than the lookback window
		registry.AddCalibrationData(CalibrationData{RateCardID: "run", VariancePercent: 90, SampleSize: 1})
		registry.AddCalibrationData(CalibrationData{RateCardID: "run", VariancePercent: 10, SampleSize: 100})
		registry.AddCalibrationData(CalibrationData{RateCardID: "run", VariancePercent: 20, SampleSize: 100})
		registry.AddCalibrationData(CalibrationData{RateCardID: "run", VariancePercent: 30, SampleSize: 100})

		suggestion := registry.CalculateSuggestedCalibration("run")
		require.NotNil(t, suggestion)
		// (10*1 + 20*2 + 30*3) / 6
		expectedAvg := 140.0 / 6.0
		assert.InDelta(t, expectedAvg, suggestion.AverageVariancePercent, 1e-9)
		assert.InDelta(t, 1+expectedAvg/100, suggestion.SuggestedMultiplier, 1e-9)
		assert.InDelta(t, 1.0, suggestion.Confidence, 1e-9)
		assert.Equal(t, 300, suggestion.SampleSize)
	})

	t.Run("below threshold yields nil", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))
		for _, v := range []float64{2, -3, 4} {
			registry.AddCalibrationData(CalibrationData{RateCardID: "run", VariancePercent: v, SampleSize: 1000})
		}
		assert.Nil(t, registry.CalculateSuggestedCalibration("run"))
	})

	t.Run("auto calibrate respects confidence", func(t *testing.T) {
		registry := NewRegistry(DefaultConfig())
		require.NoError(t, registry.Register(testCard("low", "gcp", "cloud-run", "")))
		require.NoError(t, registry.Register(testCard("high", "gcp", "firestore", "")))
		for i := 0; i < 3; i++ {
			registry.AddCalibrationData(CalibrationData{RateCardID: "low", VariancePercent: 10, SampleSize: 10})
			registry.AddCalibrationData(CalibrationData{RateCardID: "high", VariancePercent: 10, SampleSize: 100})
		}

		assert.False(t, registry.AutoCalibrate("low"))
		assert.Equal(t, 1.0, registry.FindByID("low").CalibrationMultiplier)

		assert.True(t, registry.AutoCalibrate("high"))
		assert.InDelta(t, 1.1, registry.FindByID("high").CalibrationMultiplier, 1e-9)
	})
}

func TestRateCard_IsEffective(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		effective  time.Time
		expiration *time.Time
		at         time.Time
		want       bool
	}{
		{name: "unbounded", at: start, want: true},
		{name: "before effective date", effective: start, at: start.Add(-time.Second), want: false},
		{name: "on effective date", effective: start, at: start, want: true},
		{name: "inside window", effective: start, expiration: &end, at: start.AddDate(0, 3, 0), want: true},
		{name: "on expiration date", effective: start, expiration: &end, at: end, want: false},
		{name: "after expiration only", expiration: &end, at: end.AddDate(1, 0, 0), want: false},
		{name: "before expiration only", expiration: &end, at: start.AddDate(-5, 0, 0), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := testCard("run", "gcp", "cloud-run", "")
			card.EffectiveDate = tt.effective
			card.ExpirationDate = tt.expiration
			assert.Equal(t, tt.want, card.IsEffective(tt.at))
		})
	}
}

func TestRegistry_SuggestionForOverestimate(t *testing.T) {
	registry := NewRegistry(DefaultConfig())
	require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))
	for _, v := range []float64{-10, -20, -30} {
		registry.AddCalibrationData(CalibrationData{RateCardID: "run", VariancePercent: v, SampleSize: 100})
	}

	suggestion := registry.CalculateSuggestedCalibration("run")
	require.NotNil(t, suggestion, "estimates above real cost also need correcting")
	expectedAvg := -140.0 / 6.0
	assert.InDelta(t, expectedAvg, suggestion.AverageVariancePercent, 1e-9)
	assert.InDelta(t, 1+expectedAvg/100, suggestion.SuggestedMultiplier, 1e-9)
	assert.Less(t, suggestion.SuggestedMultiplier, 1.0)

	assert.True(t, registry.AutoCalibrate("run"))
	assert.InDelta(t, 0.8, registry.FindByID("run").CalibrationMultiplier, 1e-9)
}

func TestRegistry_SetMultiplier(t *testing.T) {
	registry := NewRegistry(DefaultConfig())
	require.NoError(t, registry.Register(testCard("run", "gcp", "cloud-run", "")))
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, registry.SetMultiplier("run", 1.6, at), "restores bypass the calibrate clamp")
	card := registry.FindByID("run")
	assert.Equal(t, 1.6, card.CalibrationMultiplier)
	require.NotNil(t, card.LastCalibratedAt)
	assert.Equal(t, at, *card.LastCalibratedAt)

	assert.False(t, registry.SetMultiplier("run", 0, at))
	assert.False(t, registry.SetMultiplier("missing", 1.1, at))
	assert.Equal(t, 1.6, registry.FindByID("run").CalibrationMultiplier)
}
