package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidateProduct checks the catalog-authoring invariants of a hydrated
// product. It never mutates p.
func ValidateProduct(p Product) error {
	if strings.TrimSpace(p.Title) == "" {
		return ErrInvalidTitle
	}
	if !p.PricingModel.Valid() {
		return ErrInvalidPricingModel
	}

	type priceKey struct {
		currency string
		period   BillingPeriod
	}
	seen := make(map[priceKey]struct{}, len(p.FlatPrices))
	activeFlat := 0
	for _, fp := range p.FlatPrices {
		if strings.TrimSpace(fp.Currency) == "" {
			return ErrInvalidCurrency
		}
		if !fp.BillingPeriod.Valid() {
			return ErrInvalidPeriod
		}
		if p.PricingModel == PricingModelOneTime && fp.BillingPeriod != BillingPeriodOnce {
			return fmt.Errorf("%w: one-time product priced %s", ErrInvalidPeriod, fp.BillingPeriod)
		}
		key := priceKey{currency: fp.Currency, period: fp.BillingPeriod}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s/%s", ErrDuplicatePrice, fp.Currency, fp.BillingPeriod)
		}
		seen[key] = struct{}{}
		if fp.Active {
			activeFlat++
		}
	}
	if p.PricingModel.HasFlatComponent() && activeFlat == 0 {
		return ErrMissingFlatPrice
	}

	activeUsage := 0
	for _, up := range p.UsagePrices {
		if strings.TrimSpace(up.Currency) == "" {
			return ErrInvalidCurrency
		}
		if up.BillingScheme == BillingSchemeTiered && len(up.Tiers) == 0 {
			return fmt.Errorf("%w: tiered price %s has no tiers", ErrInvalidTiers, up.UnitName)
		}
		if len(up.Tiers) > 0 {
			if err := ValidateTiers(up.Tiers); err != nil {
				return fmt.Errorf("usage price %s: %w", up.UnitName, err)
			}
		}
		if up.Active {
			activeUsage++
		}
	}
	if p.PricingModel.HasUsageComponent() && activeUsage == 0 {
		return ErrMissingUsagePrice
	}

	names := make(map[string]struct{}, len(p.Features))
	for _, f := range p.Features {
		if strings.TrimSpace(f.Name) == "" {
			return ErrInvalidFeature
		}
		if !f.LimitType.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidLimitType, f.LimitType)
		}
		if f.LimitType.Numeric() && f.Value < 0 {
			return fmt.Errorf("%w: negative value for %s", ErrInvalidFeature, f.Name)
		}
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateFeature, f.Name)
		}
		names[f.Name] = struct{}{}
	}
	return nil
}

// ValidateTiers requires tiers, ordered by FromQuantity, to start at 0,
// be contiguous (to == next.from - 1) and end with one unbounded tier.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidTiers)
	}

	sorted := SortTiers(tiers)
	if sorted[0].FromQuantity != 0 {
		return fmt.Errorf("%w: first tier starts at %d", ErrInvalidTiers, sorted[0].FromQuantity)
	}

	last := len(sorted) - 1
	for i, tier := range sorted {
		if i == last {
			if tier.ToQuantity != nil {
				return fmt.Errorf("%w: last tier must be unbounded", ErrInvalidTiers)
			}
			break
		}
		if tier.ToQuantity == nil {
			return fmt.Errorf("%w: only the last tier may be unbounded", ErrInvalidTiers)
		}
		if *tier.ToQuantity < tier.FromQuantity {
			return fmt.Errorf("%w: tier %d ends before it starts", ErrInvalidTiers, i)
		}
		if *tier.ToQuantity != sorted[i+1].FromQuantity-1 {
			return fmt.Errorf("%w: gap or overlap after tier %d", ErrInvalidTiers, i)
		}
	}
	return nil
}

// SortTiers returns a copy of tiers ordered by FromQuantity.
func SortTiers(tiers []Tier) []Tier {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FromQuantity < sorted[j].FromQuantity
	})
	return sorted
}

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// YearlyDiscount renders the saving of paying yearly over twelve monthly
// payments as "17%". It returns "" when there is no saving.
func YearlyDiscount(monthly, yearly decimal.Decimal) string {
	if monthly.Sign() <= 0 || yearly.Sign() < 0 {
		return ""
	}
	ratio := yearly.Mul(hundred).Div(monthly.Mul(twelve))
	discount := hundred.Sub(ratio).Round(0)
	if discount.Sign() <= 0 {
		return ""
	}
	return discount.String() + "%"
}
