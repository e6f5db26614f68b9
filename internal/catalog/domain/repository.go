package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	ListProducts(ctx context.Context, db *gorm.DB) ([]Product, error)
	FindProductByCode(ctx context.Context, db *gorm.DB, code string) (*Product, error)
	ListFlatPrices(ctx context.Context, db *gorm.DB, productIDs []string) ([]FlatPrice, error)
	ListUsagePrices(ctx context.Context, db *gorm.DB, productIDs []string) ([]UsageBasedPrice, error)
	ListTiers(ctx context.Context, db *gorm.DB, usagePriceIDs []string) ([]Tier, error)
	ListFeatures(ctx context.Context, db *gorm.DB, productIDs []string) ([]Feature, error)

	SaveProduct(ctx context.Context, db *gorm.DB, product *Product) error
	SaveFlatPrice(ctx context.Context, db *gorm.DB, price *FlatPrice) error
	SaveUsagePrice(ctx context.Context, db *gorm.DB, price *UsageBasedPrice) error
	ReplaceTiers(ctx context.Context, db *gorm.DB, usagePriceID string, tiers []Tier) error
	SaveFeature(ctx context.Context, db *gorm.DB, feature *Feature) error
	DeactivateFlatPricesExcept(ctx context.Context, db *gorm.DB, productID string, keepIDs []string) error
	DeactivateUsagePricesExcept(ctx context.Context, db *gorm.DB, productID string, keepIDs []string) error
	DeleteFeaturesExcept(ctx context.Context, db *gorm.DB, productID string, keepIDs []string) error
}
