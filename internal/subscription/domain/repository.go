package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindByTenantID(ctx context.Context, db *gorm.DB, tenantID string) (*TenantSubscription, error)
	FindByID(ctx context.Context, db *gorm.DB, id string) (*TenantSubscription, error)
	Insert(ctx context.Context, db *gorm.DB, subscription *TenantSubscription) error
	UpdateExternalCustomer(ctx context.Context, db *gorm.DB, id string, externalCustomerID string) error
	// ClaimAutoSubscribe stamps the auto-subscription marker. It reports
	// false when the marker was already set.
	ClaimAutoSubscribe(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error)

	ListProducts(ctx context.Context, db *gorm.DB, tenantSubscriptionID string) ([]TenantSubscriptionProduct, error)
	ListProductPrices(ctx context.Context, db *gorm.DB, productInstanceIDs []string) ([]TenantSubscriptionProductPrice, error)
	ListProductsByExternalSubscription(ctx context.Context, db *gorm.DB, externalSubscriptionID string) ([]TenantSubscriptionProduct, error)
	InsertProduct(ctx context.Context, db *gorm.DB, product *TenantSubscriptionProduct) error
	InsertProductPrices(ctx context.Context, db *gorm.DB, prices []TenantSubscriptionProductPrice) error
	UpdateLifecycle(ctx context.Context, db *gorm.DB, productInstanceID string, update LifecycleUpdate) error
	UpdatePriceItem(ctx context.Context, db *gorm.DB, priceRowID, externalSubscriptionItemID string) error
}
