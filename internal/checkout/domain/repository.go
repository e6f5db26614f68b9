package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindStatus(ctx context.Context, db *gorm.DB, sessionID string) (*CheckoutSessionStatus, error)
	InsertStatus(ctx context.Context, db *gorm.DB, status *CheckoutSessionStatus) error
	// MarkProcessed flips pending to false and reports whether this call
	// performed the flip.
	MarkProcessed(ctx context.Context, db *gorm.DB, sessionID string, createdTenantID string, now time.Time) (bool, error)
}
