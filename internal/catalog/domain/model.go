package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Product is a sellable plan. Prices and features are hydrated by the
// repository and are not columns of the products table.
type Product struct {
	ID               string            `json:"id" gorm:"primaryKey;type:text"`
	Code             string            `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Title            string            `json:"title" gorm:"type:text;not null"`
	Description      *string           `json:"description,omitempty" gorm:"type:text"`
	DisplayOrder     int               `json:"display_order" gorm:"not null;default:0"`
	PricingModel     PricingModel      `json:"pricing_model" gorm:"type:text;not null"`
	Active           bool              `json:"active" gorm:"not null"`
	Public           bool              `json:"public" gorm:"not null"`
	GroupTitle       *string           `json:"group_title,omitempty" gorm:"type:text"`
	GroupDescription *string           `json:"group_description,omitempty" gorm:"type:text"`
	SupportsQuantity bool              `json:"supports_quantity" gorm:"not null;default:false"`
	RepeatPurchase   bool              `json:"repeat_purchase" gorm:"not null;default:false"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:json"`
	CreatedAt        time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time         `json:"updated_at" gorm:"not null"`

	FlatPrices  []FlatPrice       `json:"flat_prices" gorm:"-"`
	UsagePrices []UsageBasedPrice `json:"usage_prices" gorm:"-"`
	Features    []Feature         `json:"features" gorm:"-"`
}

func (Product) TableName() string { return "products" }

type FlatPrice struct {
	ID              string          `json:"id" gorm:"primaryKey;type:text"`
	ProductID       string          `json:"product_id" gorm:"type:text;not null;uniqueIndex:ux_flat_prices_product_currency_period,priority:1"`
	ExternalPriceID string          `json:"external_price_id" gorm:"type:text;not null;index"`
	Currency        string          `json:"currency" gorm:"type:text;not null;uniqueIndex:ux_flat_prices_product_currency_period,priority:2"`
	BillingPeriod   BillingPeriod   `json:"billing_period" gorm:"type:text;not null;uniqueIndex:ux_flat_prices_product_currency_period,priority:3"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	TrialDays       int             `json:"trial_days" gorm:"not null;default:0"`
	Active          bool            `json:"active" gorm:"not null"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null"`
}

func (FlatPrice) TableName() string { return "flat_prices" }

type UsageBasedPrice struct {
	ID              string        `json:"id" gorm:"primaryKey;type:text"`
	ProductID       string        `json:"product_id" gorm:"type:text;not null;index"`
	ExternalPriceID string        `json:"external_price_id" gorm:"type:text;not null;index"`
	Currency        string        `json:"currency" gorm:"type:text;not null"`
	UnitName        string        `json:"unit_name" gorm:"type:text;not null"`
	UsageType       UsageType     `json:"usage_type" gorm:"type:text;not null"`
	Aggregation     Aggregation   `json:"aggregation" gorm:"type:text;not null"`
	TierMode        TierMode      `json:"tier_mode" gorm:"type:text;not null"`
	BillingScheme   BillingScheme `json:"billing_scheme" gorm:"type:text;not null"`
	Active          bool          `json:"active" gorm:"not null"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null"`

	Tiers []Tier `json:"tiers" gorm:"-"`
}

func (UsageBasedPrice) TableName() string { return "usage_based_prices" }

// Tier is a quantity band of a UsageBasedPrice. A nil ToQuantity is the
// unbounded last band.
type Tier struct {
	ID                string          `json:"id" gorm:"primaryKey;type:text"`
	UsageBasedPriceID string          `json:"usage_based_price_id" gorm:"type:text;not null;index"`
	FromQuantity      int64           `json:"from" gorm:"not null"`
	ToQuantity        *int64          `json:"to,omitempty"`
	UnitAmount        decimal.Decimal `json:"unit_amount" gorm:"type:numeric(12,4);not null"`
	FlatAmount        decimal.Decimal `json:"flat_amount" gorm:"type:numeric(12,2);not null"`
}

func (Tier) TableName() string { return "usage_based_tiers" }

type Feature struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text"`
	ProductID    string    `json:"product_id" gorm:"type:text;not null;index"`
	Name         string    `json:"name" gorm:"type:text;not null"`
	Title        string    `json:"title" gorm:"type:text;not null"`
	LimitType    LimitType `json:"limit_type" gorm:"type:text;not null"`
	Value        int64     `json:"value" gorm:"not null;default:0"`
	Accumulate   bool      `json:"accumulate" gorm:"not null;default:false"`
	DisplayOrder int       `json:"display_order" gorm:"not null;default:0"`
}

func (Feature) TableName() string { return "product_features" }

// FlatPriceFor returns the active flat price for (currency, period).
func (p *Product) FlatPriceFor(currency string, period BillingPeriod) (*FlatPrice, bool) {
	for i := range p.FlatPrices {
		fp := &p.FlatPrices[i]
		if fp.Active && fp.Currency == currency && fp.BillingPeriod == period {
			return fp, true
		}
	}
	return nil, false
}

// UsagePricesFor returns the active usage-based prices in currency.
func (p *Product) UsagePricesFor(currency string) []UsageBasedPrice {
	var prices []UsageBasedPrice
	for _, up := range p.UsagePrices {
		if up.Active && up.Currency == currency {
			prices = append(prices, up)
		}
	}
	return prices
}

// Free reports whether every active price in currency costs nothing.
// A product with no price in currency is not free.
func (p *Product) Free(currency string) bool {
	seen := false
	for _, fp := range p.FlatPrices {
		if !fp.Active || fp.Currency != currency {
			continue
		}
		seen = true
		if !fp.Amount.IsZero() {
			return false
		}
	}
	for _, up := range p.UsagePrices {
		if !up.Active || up.Currency != currency {
			continue
		}
		seen = true
		for _, tier := range up.Tiers {
			if !tier.UnitAmount.IsZero() || !tier.FlatAmount.IsZero() {
				return false
			}
		}
	}
	return seen
}

// TrialPrice returns the first active flat price in currency offering a trial.
func (p *Product) TrialPrice(currency string) (*FlatPrice, bool) {
	for i := range p.FlatPrices {
		fp := &p.FlatPrices[i]
		if fp.Active && fp.Currency == currency && fp.TrialDays > 0 {
			return fp, true
		}
	}
	return nil, false
}
