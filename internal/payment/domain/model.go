package domain

import "time"

const (
	CheckoutModePayment      = "payment"
	CheckoutModeSubscription = "subscription"

	SessionStatusComplete = "complete"
	SessionStatusOpen     = "open"
	SessionStatusExpired  = "expired"
)

// Lifecycle event types routed to subscription synchronisation.
const (
	EventSubscriptionScheduleCanceled = "subscription_schedule.canceled"
	EventSubscriptionDeleted          = "customer.subscription.deleted"
	EventSubscriptionUpdated          = "customer.subscription.updated"
)

// IsLifecycleEvent reports whether eventType is one the engine acts on.
func IsLifecycleEvent(eventType string) bool {
	switch eventType {
	case EventSubscriptionScheduleCanceled, EventSubscriptionDeleted, EventSubscriptionUpdated:
		return true
	default:
		return false
	}
}

type CreateCustomerInput struct {
	TenantID string
	Email    string
	Name     string
}

type LineItem struct {
	PriceID  string
	Quantity *int64
}

type CheckoutSessionInput struct {
	TenantID          string
	CustomerID        string
	Mode              string
	LineItems         []LineItem
	TrialDays         int
	Coupon            string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
}

type SessionLineItem struct {
	PriceID  string
	Quantity int64
}

type CheckoutSession struct {
	ID             string
	URL            string
	Status         string
	Mode           string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	LineItems      []SessionLineItem
}

func (s CheckoutSession) Complete() bool {
	return s.Status == SessionStatusComplete
}

type SubscriptionItem struct {
	ID       string
	PriceID  string
	Quantity int64
}

// Subscription is the processor's authoritative view of a subscription.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CancelAtPeriodEnd  bool
	CancelAt           *time.Time
	CanceledAt         *time.Time
	EndedAt            *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	Items              []SubscriptionItem
}

// ItemForPrice returns the subscription item billing externalPriceID.
func (s Subscription) ItemForPrice(externalPriceID string) (SubscriptionItem, bool) {
	for _, item := range s.Items {
		if item.PriceID == externalPriceID {
			return item, true
		}
	}
	return SubscriptionItem{}, false
}

type UsageReport struct {
	SubscriptionItemID string
	Quantity           int64
	Timestamp          time.Time
	IdempotencyKey     string
}

// Event is a verified inbound notification.
type Event struct {
	ID             string
	Type           string
	SubscriptionID string
}

type AdapterConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
}
