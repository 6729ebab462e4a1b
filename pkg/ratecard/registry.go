package ratecard

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/snow-ghost/costrecon/pkg/billing"
)

// Registry is an in-memory catalog of rate cards indexed by id and by
// provider:service:sku key. It owns every card's calibration multiplier and
// calibration history.
//
// All mutation happens under mu, so Calibrate's read-clamp-write sequence is
// atomic per card and the clamp bound holds under concurrent callers.
type Registry struct {
	mu      sync.RWMutex
	config  Config
	byID    map[string]*RateCard
	byKey   map[string]string
	history map[string][]CalibrationData
	now     func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(config Config) *Registry {
	defaults := DefaultConfig()
	if config.MaxChange <= 0 {
		config.MaxChange = defaults.MaxChange
	}
	if config.LookbackPeriods <= 0 {
		config.LookbackPeriods = defaults.LookbackPeriods
	}
	if config.VarianceThreshold <= 0 {
		config.VarianceThreshold = defaults.VarianceThreshold
	}
	if config.MinSampleSize <= 0 {
		config.MinSampleSize = defaults.MinSampleSize
	}
	if config.AutoCalibrateConfidence <= 0 {
		config.AutoCalibrateConfidence = defaults.AutoCalibrateConfidence
	}

	return &Registry{
		config:  config,
		byID:    make(map[string]*RateCard),
		byKey:   make(map[string]string),
		history: make(map[string][]CalibrationData),
		now:     time.Now,
	}
}

// Config returns the registry's calibration settings
func (r *Registry) Config() Config {
	return r.config
}

// Register validates and indexes a rate card. A card with a sku also claims
// the sku-less fallback key unless another card already holds it.
func (r *Registry) Register(card *RateCard) error {
	if err := Validate(card); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[card.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, card.ID)
	}

	stored := card.Clone()
	if stored.CalibrationMultiplier == 0 {
		stored.CalibrationMultiplier = 1.0
	}

	r.byID[stored.ID] = stored
	r.byKey[lookupKey(stored.Provider, stored.Service, stored.SKU)] = stored.ID
	if stored.SKU != "" {
		fallback := lookupKey(stored.Provider, stored.Service, "")
		if _, taken := r.byKey[fallback]; !taken {
			r.byKey[fallback] = stored.ID
		}
	}
	if _, ok := r.history[stored.ID]; !ok {
		r.history[stored.ID] = []CalibrationData{}
	}
	return nil
}

// Find resolves a card by provider, service and optional sku, ignoring case.
// A sku miss falls back to the sku-less key. Returns nil when nothing matches.
func (r *Registry) Find(provider, service, sku string) *RateCard {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sku != "" {
		if id, ok := r.byKey[lookupKey(provider, service, sku)]; ok {
			if card, ok := r.byID[id]; ok {
				return card.Clone()
			}
		}
	}
	if id, ok := r.byKey[lookupKey(provider, service, "")]; ok {
		if card, ok := r.byID[id]; ok {
			return card.Clone()
		}
	}
	return nil
}

// FindByID returns a copy of the card with the given id, or nil
func (r *Registry) FindByID(id string) *RateCard {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if card, ok := r.byID[id]; ok {
		return card.Clone()
	}
	return nil
}

// List returns copies of all cards ordered by id
func (r *Registry) List() []*RateCard {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cards := make([]*RateCard, 0, len(r.byID))
	for _, card := range r.byID {
		cards = append(cards, card.Clone())
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].ID < cards[j].ID })
	return cards
}

// ListFor returns the cards of one provider, ignoring case and separators
func (r *Registry) ListFor(provider string) []*RateCard {
	key := billing.NormalizeKey(provider)
	var cards []*RateCard
	for _, card := range r.List() {
		if billing.NormalizeKey(card.Provider) == key {
			cards = append(cards, card)
		}
	}
	return cards
}

// Len returns the number of registered cards
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Remove deletes a card. Index keys are only dropped while they still point at
// this card, so another card's fallback slot is never orphaned.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	card, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)

	exact := lookupKey(card.Provider, card.Service, card.SKU)
	if r.byKey[exact] == id {
		delete(r.byKey, exact)
	}
	if card.SKU != "" {
		fallback := lookupKey(card.Provider, card.Service, "")
		if r.byKey[fallback] == id {
			delete(r.byKey, fallback)
		}
	}
	return true
}

// Clear drops every card and all calibration history
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID = make(map[string]*RateCard)
	r.byKey = make(map[string]string)
	r.history = make(map[string][]CalibrationData)
}

// Calibrate sets a card's multiplier, clamped additively to within MaxChange
// of its current value. Returns false for an unknown id.
func (r *Registry) Calibrate(id string, multiplier float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	card, ok := r.byID[id]
	if !ok {
		return false
	}

	current := card.CalibrationMultiplier
	clamped := math.Max(current-r.config.MaxChange, math.Min(current+r.config.MaxChange, multiplier))

	now := r.now()
	card.CalibrationMultiplier = clamped
	card.LastCalibratedAt = &now
	return true
}

// SetMultiplier restores a persisted multiplier without clamping. It returns
// false for an unknown id or a non-positive multiplier.
func (r *Registry) SetMultiplier(id string, multiplier float64, calibratedAt time.Time) bool {
	if multiplier <= 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	card, ok := r.byID[id]
	if !ok {
		return false
	}
	card.CalibrationMultiplier = multiplier
	if calibratedAt.IsZero() {
		card.LastCalibratedAt = nil
	} else {
		at := calibratedAt
		card.LastCalibratedAt = &at
	}
	return true
}

// AddCalibrationData appends a history point, keeping at most
// 2 x LookbackPeriods entries per card.
func (r *Registry) AddCalibrationData(data CalibrationData) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if data.CalculatedAt.IsZero() {
		data.CalculatedAt = r.now()
	}

	entries := append(r.history[data.RateCardID], data)
	if limit := 2 * r.config.LookbackPeriods; len(entries) > limit {
		entries = append([]CalibrationData(nil), entries[len(entries)-limit:]...)
	}
	r.history[data.RateCardID] = entries
}

// History returns a copy of a card's calibration history, oldest first
func (r *Registry) History(id string) []CalibrationData {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.history[id]
	out := make([]CalibrationData, len(entries))
	copy(out, entries)
	return out
}

// ClearHistory resets one card's calibration history
func (r *Registry) ClearHistory(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.history[id]; ok {
		r.history[id] = []CalibrationData{}
	}
}

// CalculateSuggestedCalibration proposes a multiplier from the most recent
// LookbackPeriods history points, weighting later points more heavily.
// Returns nil with too little history or when the weighted variance is
// inside the threshold.
func (r *Registry) CalculateSuggestedCalibration(id string) *Suggestion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	card, ok := r.byID[id]
	if !ok {
		return nil
	}

	lookback := r.config.LookbackPeriods
	entries := r.history[id]
	if len(entries) < lookback {
		return nil
	}
	recent := entries[len(entries)-lookback:]

	var weightedSum, totalWeight float64
	totalSamples := 0
	for i, entry := range recent {
		weight := float64(i + 1)
		weightedSum += entry.VariancePercent * weight
		totalWeight += weight
		totalSamples += entry.SampleSize
	}
	avgVariance := weightedSum / totalWeight

	if math.Abs(avgVariance) < r.config.VarianceThreshold*100 {
		return nil
	}

	confidence := math.Min(1, float64(totalSamples)/float64(r.config.MinSampleSize*lookback))

	return &Suggestion{
		RateCardID:             id,
		CurrentMultiplier:      card.CalibrationMultiplier,
		SuggestedMultiplier:    card.CalibrationMultiplier * (1 + avgVariance/100),
		AverageVariancePercent: avgVariance,
		Confidence:             confidence,
		SampleSize:             totalSamples,
	}
}

// AutoCalibrate applies the history-based suggestion when its confidence
// reaches AutoCalibrateConfidence.
func (r *Registry) AutoCalibrate(id string) bool {
	suggestion := r.CalculateSuggestedCalibration(id)
	if suggestion == nil || suggestion.Confidence < r.config.AutoCalibrateConfidence {
		return false
	}
	return r.Calibrate(id, suggestion.SuggestedMultiplier)
}
