package repository

import (
	"context"

	"github.com/smallbiznis/tenantbilling/internal/tenant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CountUsers(ctx context.Context, db *gorm.DB, tenantID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM tenant_users WHERE tenant_id = ?`,
		tenantID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
