package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/tenantbilling/internal/checkout/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindStatus(ctx context.Context, db *gorm.DB, sessionID string) (*domain.CheckoutSessionStatus, error) {
	var status domain.CheckoutSessionStatus
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, pending, email, url, from_user_id, from_tenant_id,
		        created_user_id, created_tenant_id, created_at, updated_at
		 FROM checkout_session_statuses WHERE id = ?`,
		sessionID,
	).Scan(&status).Error
	if err != nil {
		return nil, err
	}
	if status.ID == "" {
		return nil, nil
	}
	return &status, nil
}

func (r *repo) InsertStatus(ctx context.Context, db *gorm.DB, status *domain.CheckoutSessionStatus) error {
	return db.WithContext(ctx).Create(status).Error
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, sessionID string, createdTenantID string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE checkout_session_statuses
		 SET pending = ?, created_tenant_id = ?, updated_at = ?
		 WHERE id = ? AND pending = ?`,
		false, createdTenantID, now, sessionID, true,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
