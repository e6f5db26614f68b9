// Package domain contains the persisted ownership records of tenants.
package domain

import "time"

// TenantSubscription is the single billing anchor of a tenant.
type TenantSubscription struct {
	ID                 string    `json:"id" gorm:"primaryKey;type:text"`
	TenantID           string    `json:"tenant_id" gorm:"type:text;not null;uniqueIndex"`
	ExternalCustomerID *string    `json:"external_customer_id,omitempty" gorm:"type:text;index"`
	AutoSubscribedAt   *time.Time `json:"auto_subscribed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time  `json:"updated_at" gorm:"not null"`
}

func (TenantSubscription) TableName() string { return "tenant_subscriptions" }

// TenantSubscriptionProduct is an owned instance of a catalog product.
type TenantSubscriptionProduct struct {
	ID                     string     `json:"id" gorm:"primaryKey;type:text"`
	TenantSubscriptionID   string     `json:"tenant_subscription_id" gorm:"type:text;not null;index"`
	ProductID              string     `json:"product_id" gorm:"type:text;not null;index"`
	ExternalSubscriptionID *string    `json:"external_subscription_id,omitempty" gorm:"type:text;index"`
	Quantity               int64      `json:"quantity" gorm:"not null;default:1"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`
	EndsAt                 *time.Time `json:"ends_at,omitempty"`
	CurrentPeriodStart     *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	CheckoutSessionID      *string    `json:"checkout_session_id,omitempty" gorm:"type:text;index"`
	CreatedAt              time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time  `json:"updated_at" gorm:"not null"`

	Prices []TenantSubscriptionProductPrice `json:"prices" gorm:"-"`
}

func (TenantSubscriptionProduct) TableName() string { return "tenant_subscription_products" }

// Active reports whether the instance still counts at now.
func (p TenantSubscriptionProduct) Active(now time.Time) bool {
	return p.EndsAt == nil || p.EndsAt.After(now)
}

// TenantSubscriptionProductPrice binds an owned instance to the price the
// tenant pays. Exactly one of FlatPriceID and UsageBasedPriceID is set.
type TenantSubscriptionProductPrice struct {
	ID                          string    `json:"id" gorm:"primaryKey;type:text"`
	TenantSubscriptionProductID string    `json:"tenant_subscription_product_id" gorm:"type:text;not null;index"`
	FlatPriceID                 *string   `json:"flat_price_id,omitempty" gorm:"type:text"`
	UsageBasedPriceID           *string   `json:"usage_based_price_id,omitempty" gorm:"type:text;index"`
	ExternalSubscriptionItemID  *string   `json:"external_subscription_item_id,omitempty" gorm:"type:text"`
	CreatedAt                   time.Time `json:"created_at" gorm:"not null"`
}

func (TenantSubscriptionProductPrice) TableName() string { return "tenant_subscription_product_prices" }

// PriceID returns whichever price the row binds.
func (p TenantSubscriptionProductPrice) PriceID() string {
	if p.FlatPriceID != nil {
		return *p.FlatPriceID
	}
	if p.UsageBasedPriceID != nil {
		return *p.UsageBasedPriceID
	}
	return ""
}

// Ownership is a tenant's subscription with every owned product instance.
type Ownership struct {
	Subscription *TenantSubscription         `json:"subscription,omitempty"`
	Products     []TenantSubscriptionProduct `json:"products"`
}

// ActiveAt returns a copy holding only the products still active at now.
func (o Ownership) ActiveAt(now time.Time) Ownership {
	out := Ownership{Subscription: o.Subscription, Products: make([]TenantSubscriptionProduct, 0, len(o.Products))}
	for _, product := range o.Products {
		if product.Active(now) {
			out.Products = append(out.Products, product)
		}
	}
	return out
}

// LifecycleUpdate carries the fields synchronised from the processor.
type LifecycleUpdate struct {
	CancelledAt        *time.Time
	EndsAt             *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}
