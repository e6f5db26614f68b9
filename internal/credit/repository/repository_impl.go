package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/tenantbilling/internal/credit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, credit *domain.Credit) error {
	return db.WithContext(ctx).Create(credit).Error
}

func (r *repo) Sum(ctx context.Context, db *gorm.DB, tenantID, creditType string, from, to time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM credits
		 WHERE tenant_id = ? AND type = ? AND created_at >= ? AND created_at < ?`,
		tenantID, creditType, from, to,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
