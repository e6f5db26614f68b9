package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, credit *Credit) error
	Sum(ctx context.Context, db *gorm.DB, tenantID, creditType string, from, to time.Time) (int64, error)
}
