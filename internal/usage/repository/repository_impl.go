package repository

import (
	"context"

	"github.com/smallbiznis/tenantbilling/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.UsageRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) ListByPriceRow(ctx context.Context, db *gorm.DB, priceRowID string) ([]domain.UsageRecord, error) {
	var items []domain.UsageRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_subscription_product_price_id, external_subscription_item_id,
		        quantity, idempotency_key, recorded_at
		 FROM usage_records
		 WHERE tenant_subscription_product_price_id = ?
		 ORDER BY recorded_at ASC, id ASC`,
		priceRowID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
