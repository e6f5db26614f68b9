package domain

import "strings"

// PricingModel is the closed set of ways a product can be priced.
type PricingModel string

const (
	PricingModelOneTime                PricingModel = "ONE_TIME"
	PricingModelFlatRate               PricingModel = "FLAT_RATE"
	PricingModelPerSeat                PricingModel = "PER_SEAT"
	PricingModelUsageBased             PricingModel = "USAGE_BASED"
	PricingModelFlatRatePlusUsageBased PricingModel = "FLAT_RATE_PLUS_USAGE_BASED"
)

func (m PricingModel) Valid() bool {
	switch m {
	case PricingModelOneTime,
		PricingModelFlatRate,
		PricingModelPerSeat,
		PricingModelUsageBased,
		PricingModelFlatRatePlusUsageBased:
		return true
	default:
		return false
	}
}

// HasFlatComponent reports whether the model requires a FlatPrice.
func (m PricingModel) HasFlatComponent() bool {
	switch m {
	case PricingModelOneTime, PricingModelFlatRate, PricingModelPerSeat, PricingModelFlatRatePlusUsageBased:
		return true
	case PricingModelUsageBased:
		return false
	default:
		return false
	}
}

// HasUsageComponent reports whether the model requires a UsageBasedPrice.
func (m PricingModel) HasUsageComponent() bool {
	switch m {
	case PricingModelUsageBased, PricingModelFlatRatePlusUsageBased:
		return true
	case PricingModelOneTime, PricingModelFlatRate, PricingModelPerSeat:
		return false
	default:
		return false
	}
}

type BillingPeriod string

const (
	BillingPeriodOnce       BillingPeriod = "ONCE"
	BillingPeriodDaily      BillingPeriod = "DAILY"
	BillingPeriodWeekly     BillingPeriod = "WEEKLY"
	BillingPeriodMonthly    BillingPeriod = "MONTHLY"
	BillingPeriodQuarterly  BillingPeriod = "QUARTERLY"
	BillingPeriodSemiAnnual BillingPeriod = "SEMI_ANNUAL"
	BillingPeriodYearly     BillingPeriod = "YEARLY"
)

func (p BillingPeriod) Valid() bool {
	switch p {
	case BillingPeriodOnce,
		BillingPeriodDaily,
		BillingPeriodWeekly,
		BillingPeriodMonthly,
		BillingPeriodQuarterly,
		BillingPeriodSemiAnnual,
		BillingPeriodYearly:
		return true
	default:
		return false
	}
}

// ParseBillingPeriod accepts any casing and "-" or " " separators.
func ParseBillingPeriod(value string) BillingPeriod {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	return BillingPeriod(normalized)
}

// LimitType describes how a feature grant is bounded.
type LimitType string

const (
	LimitNotIncluded LimitType = "NOT_INCLUDED"
	LimitIncluded    LimitType = "INCLUDED"
	LimitMax         LimitType = "MAX"
	LimitMonthly     LimitType = "MONTHLY"
	LimitUnlimited   LimitType = "UNLIMITED"
)

// Rank orders limit types for merging: NOT_INCLUDED < MAX < MONTHLY <
// UNLIMITED < INCLUDED. Unknown types rank below NOT_INCLUDED.
func (t LimitType) Rank() int {
	switch t {
	case LimitNotIncluded:
		return 0
	case LimitMax:
		return 1
	case LimitMonthly:
		return 2
	case LimitUnlimited:
		return 3
	case LimitIncluded:
		return 4
	default:
		return -1
	}
}

func (t LimitType) Valid() bool {
	return t.Rank() >= 0
}

// Numeric reports whether the grant carries a quota value.
func (t LimitType) Numeric() bool {
	return t == LimitMax || t == LimitMonthly
}

type UsageType string

const (
	UsageTypeLicensed UsageType = "licensed"
	UsageTypeMetered  UsageType = "metered"
)

type Aggregation string

const (
	AggregationSum  Aggregation = "sum"
	AggregationMax  Aggregation = "max"
	AggregationLast Aggregation = "last"
)

type TierMode string

const (
	TierModeVolume    TierMode = "volume"
	TierModeGraduated TierMode = "graduated"
)

type BillingScheme string

const (
	BillingSchemePerUnit BillingScheme = "per_unit"
	BillingSchemeTiered  BillingScheme = "tiered"
)
