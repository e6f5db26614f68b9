package domain

import "errors"

var (
	ErrNotFound            = errors.New("not_found")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidTitle        = errors.New("invalid_title")
	ErrInvalidPricingModel = errors.New("invalid_pricing_model")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidPeriod       = errors.New("invalid_billing_period")
	ErrInvalidLimitType    = errors.New("invalid_limit_type")
	ErrInvalidFeature      = errors.New("invalid_feature")
	ErrMissingFlatPrice    = errors.New("missing_flat_price")
	ErrMissingUsagePrice   = errors.New("missing_usage_price")
	ErrDuplicatePrice      = errors.New("duplicate_price")
	ErrDuplicateFeature    = errors.New("duplicate_feature")
	ErrInvalidTiers        = errors.New("invalid_tiers")
)
