package domain

import (
	"time"

	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
)

// CheckoutSessionStatus tracks an external checkout session from creation
// until it has been provisioned. Pending flips to false exactly once.
type CheckoutSessionStatus struct {
	ID              string    `json:"id" gorm:"primaryKey;type:text"`
	TenantID        string    `json:"tenant_id" gorm:"type:text;not null;index"`
	Pending         bool      `json:"pending" gorm:"not null"`
	Email           *string   `json:"email,omitempty" gorm:"type:text"`
	URL             *string   `json:"url,omitempty" gorm:"type:text"`
	FromUserID      *string   `json:"from_user_id,omitempty" gorm:"type:text"`
	FromTenantID    *string   `json:"from_tenant_id,omitempty" gorm:"type:text"`
	CreatedUserID   *string   `json:"created_user_id,omitempty" gorm:"type:text"`
	CreatedTenantID *string   `json:"created_tenant_id,omitempty" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"not null"`
}

func (CheckoutSessionStatus) TableName() string { return "checkout_session_statuses" }

type CheckoutOptions struct {
	Email      string
	UserID     string
	SuccessURL string
	CancelURL  string
}

type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Mode      string `json:"mode"`
}

// ReconcileResult lists the product instances provisioned for a session.
type ReconcileResult struct {
	SessionID string                                         `json:"session_id"`
	Products  []subscriptiondomain.TenantSubscriptionProduct `json:"products"`
}

// AutoSubscribeBranch names which rule picked the auto-provisioned product.
type AutoSubscribeBranch string

const (
	AutoSubscribeTrial AutoSubscribeBranch = "trial"
	AutoSubscribeFree  AutoSubscribeBranch = "free"
)

type AutoSubscribeResult struct {
	Branch  AutoSubscribeBranch                          `json:"branch"`
	Product subscriptiondomain.TenantSubscriptionProduct `json:"product"`
}
