package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	ListByPriceRow(ctx context.Context, db *gorm.DB, priceRowID string) ([]UsageRecord, error)
}
