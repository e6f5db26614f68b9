package domain

import (
	"context"
	"errors"
)

type Service interface {
	EnsureTenantSubscription(ctx context.Context, tenantID string) (*TenantSubscription, error)
	GetTenantSubscription(ctx context.Context, tenantID string) (*TenantSubscription, error)
	SetExternalCustomer(ctx context.Context, tenantID, externalCustomerID string) error
	GetActive(ctx context.Context, tenantID string) (*Ownership, error)
	// FindByExternalSubscription returns every product instance billed by
	// one external subscription, together with their owner.
	FindByExternalSubscription(ctx context.Context, externalSubscriptionID string) ([]TenantSubscriptionProduct, *TenantSubscription, error)
	UpdateLifecycle(ctx context.Context, tenantID, productInstanceID string, update LifecycleUpdate) error
	// SetPriceItem rebinds a price row to the processor's current
	// subscription item.
	SetPriceItem(ctx context.Context, tenantID, priceRowID, externalSubscriptionItemID string) error
	Invalidate(ctx context.Context, tenantID string) error
}

var (
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrNotFound            = errors.New("subscription_not_found")
	ErrProductNotFound     = errors.New("subscription_product_not_found")
	ErrInvalidSubscription = errors.New("invalid_subscription")
)
