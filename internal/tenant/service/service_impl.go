package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/tenantbilling/internal/tenant/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{db: p.DB, repo: p.Repo}
}

func (s *Service) CountUsers(ctx context.Context, tenantID string) (int64, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, domain.ErrInvalidTenant
	}
	return s.repo.CountUsers(ctx, s.db, tenantID)
}
