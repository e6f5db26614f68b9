package repository

import (
	"context"

	"github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListProducts(ctx context.Context, db *gorm.DB) ([]domain.Product, error) {
	var items []domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, title, description, display_order, pricing_model, active, public,
		        group_title, group_description, supports_quantity, repeat_purchase, metadata,
		        created_at, updated_at
		 FROM products ORDER BY display_order ASC, id ASC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindProductByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Product, error) {
	var p domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, title, description, display_order, pricing_model, active, public,
		        group_title, group_description, supports_quantity, repeat_purchase, metadata,
		        created_at, updated_at
		 FROM products WHERE code = ?`,
		code,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) ListFlatPrices(ctx context.Context, db *gorm.DB, productIDs []string) ([]domain.FlatPrice, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var items []domain.FlatPrice
	err := db.WithContext(ctx).Raw(
		`SELECT id, product_id, external_price_id, currency, billing_period, amount, trial_days, active, created_at
		 FROM flat_prices WHERE product_id IN ? ORDER BY product_id ASC, created_at ASC, id ASC`,
		productIDs,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListUsagePrices(ctx context.Context, db *gorm.DB, productIDs []string) ([]domain.UsageBasedPrice, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var items []domain.UsageBasedPrice
	err := db.WithContext(ctx).Raw(
		`SELECT id, product_id, external_price_id, currency, unit_name, usage_type, aggregation,
		        tier_mode, billing_scheme, active, created_at
		 FROM usage_based_prices WHERE product_id IN ? ORDER BY product_id ASC, created_at ASC, id ASC`,
		productIDs,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListTiers(ctx context.Context, db *gorm.DB, usagePriceIDs []string) ([]domain.Tier, error) {
	if len(usagePriceIDs) == 0 {
		return nil, nil
	}
	var items []domain.Tier
	err := db.WithContext(ctx).Raw(
		`SELECT id, usage_based_price_id, from_quantity, to_quantity, unit_amount, flat_amount
		 FROM usage_based_tiers WHERE usage_based_price_id IN ?
		 ORDER BY usage_based_price_id ASC, from_quantity ASC`,
		usagePriceIDs,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListFeatures(ctx context.Context, db *gorm.DB, productIDs []string) ([]domain.Feature, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var items []domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT id, product_id, name, title, limit_type, value, accumulate, display_order
		 FROM product_features WHERE product_id IN ?
		 ORDER BY product_id ASC, display_order ASC, id ASC`,
		productIDs,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SaveProduct(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	if product == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Save(product).Error
}

func (r *repo) SaveFlatPrice(ctx context.Context, db *gorm.DB, price *domain.FlatPrice) error {
	if price == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Save(price).Error
}

func (r *repo) SaveUsagePrice(ctx context.Context, db *gorm.DB, price *domain.UsageBasedPrice) error {
	if price == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Save(price).Error
}

func (r *repo) ReplaceTiers(ctx context.Context, db *gorm.DB, usagePriceID string, tiers []domain.Tier) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM usage_based_tiers WHERE usage_based_price_id = ?`,
		usagePriceID,
	).Error; err != nil {
		return err
	}
	if len(tiers) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&tiers).Error
}

func (r *repo) SaveFeature(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	if feature == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Save(feature).Error
}

func (r *repo) DeactivateFlatPricesExcept(ctx context.Context, db *gorm.DB, productID string, keepIDs []string) error {
	if len(keepIDs) == 0 {
		return db.WithContext(ctx).Exec(
			`UPDATE flat_prices SET active = ? WHERE product_id = ?`,
			false, productID,
		).Error
	}
	return db.WithContext(ctx).Exec(
		`UPDATE flat_prices SET active = ? WHERE product_id = ? AND id NOT IN ?`,
		false, productID, keepIDs,
	).Error
}

func (r *repo) DeactivateUsagePricesExcept(ctx context.Context, db *gorm.DB, productID string, keepIDs []string) error {
	if len(keepIDs) == 0 {
		return db.WithContext(ctx).Exec(
			`UPDATE usage_based_prices SET active = ? WHERE product_id = ?`,
			false, productID,
		).Error
	}
	return db.WithContext(ctx).Exec(
		`UPDATE usage_based_prices SET active = ? WHERE product_id = ? AND id NOT IN ?`,
		false, productID, keepIDs,
	).Error
}

func (r *repo) DeleteFeaturesExcept(ctx context.Context, db *gorm.DB, productID string, keepIDs []string) error {
	if len(keepIDs) == 0 {
		return db.WithContext(ctx).Exec(
			`DELETE FROM product_features WHERE product_id = ?`,
			productID,
		).Error
	}
	return db.WithContext(ctx).Exec(
		`DELETE FROM product_features WHERE product_id = ? AND id NOT IN ?`,
		productID, keepIDs,
	).Error
}
