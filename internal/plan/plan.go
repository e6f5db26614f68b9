// Package plan turns a purchase intent into the priced line items handed to
// the payment processor's checkout.
package plan

import (
	"errors"

	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
)

type Mode string

const (
	ModePayment      Mode = "payment"
	ModeSubscription Mode = "subscription"
)

// PurchaseIntent is what a tenant asked to buy.
type PurchaseIntent struct {
	ProductID     string `json:"product_id"`
	BillingPeriod string `json:"billing_period"`
	Currency      string `json:"currency"`
	Quantity      int64  `json:"quantity"`
	Coupon        string `json:"coupon,omitempty"`
	IsUpgrade     bool   `json:"is_upgrade,omitempty"`
	IsDowngrade   bool   `json:"is_downgrade,omitempty"`
	Referral      string `json:"referral,omitempty"`
}

// LineItem references an external price. Quantity is only set on the flat
// line; metered lines are sized by usage reports.
type LineItem struct {
	ExternalPriceID string
	Quantity        *int64
}

type ResolvedPlan struct {
	Product       *catalogdomain.Product
	Mode          Mode
	Currency      string
	BillingPeriod catalogdomain.BillingPeriod
	Quantity      int64
	FlatPrice     *catalogdomain.FlatPrice
	UsagePrices   []catalogdomain.UsageBasedPrice
	LineItems     []LineItem
	TrialDays     int
	Coupon        string
	IsUpgrade     bool
	IsDowngrade   bool
	Referral      string
}

var (
	ErrInvalidProduct       = errors.New("invalid_product")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidBillingPeriod = errors.New("invalid_billing_period")
)
