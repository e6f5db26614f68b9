package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByTenantID(ctx context.Context, db *gorm.DB, tenantID string) (*domain.TenantSubscription, error) {
	var sub domain.TenantSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, external_customer_id, auto_subscribed_at, created_at, updated_at
		 FROM tenant_subscriptions WHERE tenant_id = ?`,
		tenantID,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.TenantSubscription, error) {
	var sub domain.TenantSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, external_customer_id, auto_subscribed_at, created_at, updated_at
		 FROM tenant_subscriptions WHERE id = ?`,
		id,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *domain.TenantSubscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) UpdateExternalCustomer(ctx context.Context, db *gorm.DB, id string, externalCustomerID string) error {
	return db.WithContext(ctx).
		Model(&domain.TenantSubscription{}).
		Where("id = ?", id).
		Update("external_customer_id", externalCustomerID).Error
}

func (r *repo) ClaimAutoSubscribe(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE tenant_subscriptions
		 SET auto_subscribed_at = ?, updated_at = ?
		 WHERE id = ? AND auto_subscribed_at IS NULL`,
		at, at, id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListProducts(ctx context.Context, db *gorm.DB, tenantSubscriptionID string) ([]domain.TenantSubscriptionProduct, error) {
	var items []domain.TenantSubscriptionProduct
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_subscription_id, product_id, external_subscription_id, quantity,
		        cancelled_at, ends_at, current_period_start, current_period_end, checkout_session_id,
		        created_at, updated_at
		 FROM tenant_subscription_products
		 WHERE tenant_subscription_id = ?
		 ORDER BY created_at ASC, id ASC`,
		tenantSubscriptionID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListProductPrices(ctx context.Context, db *gorm.DB, productInstanceIDs []string) ([]domain.TenantSubscriptionProductPrice, error) {
	if len(productInstanceIDs) == 0 {
		return nil, nil
	}
	var items []domain.TenantSubscriptionProductPrice
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_subscription_product_id, flat_price_id, usage_based_price_id,
		        external_subscription_item_id, created_at
		 FROM tenant_subscription_product_prices
		 WHERE tenant_subscription_product_id IN ?
		 ORDER BY created_at ASC, id ASC`,
		productInstanceIDs,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListProductsByExternalSubscription(ctx context.Context, db *gorm.DB, externalSubscriptionID string) ([]domain.TenantSubscriptionProduct, error) {
	var items []domain.TenantSubscriptionProduct
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_subscription_id, product_id, external_subscription_id, quantity,
		        cancelled_at, ends_at, current_period_start, current_period_end, checkout_session_id,
		        created_at, updated_at
		 FROM tenant_subscription_products
		 WHERE external_subscription_id = ?
		 ORDER BY created_at ASC, id ASC`,
		externalSubscriptionID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertProduct(ctx context.Context, db *gorm.DB, product *domain.TenantSubscriptionProduct) error {
	return db.WithContext(ctx).Create(product).Error
}

func (r *repo) InsertProductPrices(ctx context.Context, db *gorm.DB, prices []domain.TenantSubscriptionProductPrice) error {
	if len(prices) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&prices).Error
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, productInstanceID string, update domain.LifecycleUpdate) error {
	return db.WithContext(ctx).
		Model(&domain.TenantSubscriptionProduct{}).
		Where("id = ?", productInstanceID).
		Updates(map[string]any{
			"cancelled_at":         update.CancelledAt,
			"ends_at":              update.EndsAt,
			"current_period_start": update.CurrentPeriodStart,
			"current_period_end":   update.CurrentPeriodEnd,
		}).Error
}

func (r *repo) UpdatePriceItem(ctx context.Context, db *gorm.DB, priceRowID, externalSubscriptionItemID string) error {
	return db.WithContext(ctx).
		Model(&domain.TenantSubscriptionProductPrice{}).
		Where("id = ?", priceRowID).
		Update("external_subscription_item_id", externalSubscriptionItemID).Error
}
