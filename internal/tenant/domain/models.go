// Package domain mirrors the tenant membership rows owned by the account
// system. They are read here only to count seats.
package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type TenantUser struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	TenantID  string    `json:"tenant_id" gorm:"type:text;not null;uniqueIndex:ux_tenant_users_tenant_user,priority:1"`
	UserID    string    `json:"user_id" gorm:"type:text;not null;uniqueIndex:ux_tenant_users_tenant_user,priority:2"`
	Role      string    `json:"role" gorm:"type:text;not null;default:member"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (TenantUser) TableName() string { return "tenant_users" }

type Repository interface {
	CountUsers(ctx context.Context, db *gorm.DB, tenantID string) (int64, error)
}

type Service interface {
	CountUsers(ctx context.Context, tenantID string) (int64, error)
}

var ErrInvalidTenant = errors.New("invalid_tenant")
