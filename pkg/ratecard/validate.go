package ratecard

import (
	"errors"
	"fmt"
	"math"
)

var posInf = math.Inf(1)

var (
	ErrMissingField = errors.New("ratecard: missing required field")
	ErrDuplicateID  = errors.New("ratecard: duplicate id")
	ErrInvalidRule  = errors.New("ratecard: invalid pricing rule")
	ErrInvalidTiers = errors.New("ratecard: invalid volume tiers")
)

// Validate checks the fields Register depends on and the tier layout of every rule
func Validate(card *RateCard) error {
	if card == nil {
		return fmt.Errorf("%w: rate card is nil", ErrMissingField)
	}
	switch {
	case card.ID == "":
		return fmt.Errorf("%w: id", ErrMissingField)
	case card.Provider == "":
		return fmt.Errorf("%w: provider (rate card %s)", ErrMissingField, card.ID)
	case card.Service == "":
		return fmt.Errorf("%w: service (rate card %s)", ErrMissingField, card.ID)
	}

	for i, rule := range card.Rules {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("rate card %s rule %d: %w", card.ID, i, err)
		}
	}
	return nil
}

func validateRule(rule PricingRule) error {
	if rule.Unit == "" {
		return fmt.Errorf("%w: unit is required", ErrInvalidRule)
	}
	if rule.Unit == UnitCustom && rule.CustomUnit == "" {
		return fmt.Errorf("%w: custom unit requires custom_unit", ErrInvalidRule)
	}
	if rule.PricePerUnit != nil && *rule.PricePerUnit < 0 {
		return fmt.Errorf("%w: negative price_per_unit", ErrInvalidRule)
	}
	if rule.MinimumCharge != nil && *rule.MinimumCharge < 0 {
		return fmt.Errorf("%w: negative minimum_charge", ErrInvalidRule)
	}
	if rule.FreeAllowance != nil && *rule.FreeAllowance < 0 {
		return fmt.Errorf("%w: negative free_allowance", ErrInvalidRule)
	}
	return validateTiers(rule.SortedTiers())
}

// validateTiers expects tiers sorted by Min. Bands must be contiguous with
// only the last one unbounded.
func validateTiers(tiers []VolumeTier) error {
	for i, tier := range tiers {
		if tier.PricePerUnit < 0 {
			return fmt.Errorf("%w: tier %d has negative price", ErrInvalidTiers, i)
		}
		if tier.Max == nil {
			if i != len(tiers)-1 {
				return fmt.Errorf("%w: unbounded tier %d is not last", ErrInvalidTiers, i)
			}
		} else if *tier.Max <= tier.Min {
			return fmt.Errorf("%w: tier %d max %.4f <= min %.4f", ErrInvalidTiers, i, *tier.Max, tier.Min)
		}
		if i > 0 {
			prev := tiers[i-1]
			if prev.Max == nil || *prev.Max != tier.Min {
				return fmt.Errorf("%w: tier %d does not start where tier %d ends", ErrInvalidTiers, i, i-1)
			}
		}
	}
	return nil
}
