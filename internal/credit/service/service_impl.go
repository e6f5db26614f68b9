package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbilling/internal/clock"
	"github.com/smallbiznis/tenantbilling/internal/credit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("credit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Append(ctx context.Context, req domain.AppendRequest) (*domain.Credit, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}
	creditType := strings.TrimSpace(req.Type)
	if creditType == "" {
		return nil, domain.ErrInvalidType
	}
	if req.Amount == 0 {
		return nil, domain.ErrInvalidAmount
	}

	credit := &domain.Credit{
		ID:        s.genID.Generate().String(),
		TenantID:  tenantID,
		UserID:    req.UserID,
		Type:      creditType,
		ObjectRef: req.ObjectRef,
		Amount:    req.Amount,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, credit); err != nil {
		return nil, err
	}

	s.log.Debug("credit appended",
		zap.String("tenant_id", tenantID),
		zap.String("type", creditType),
		zap.Int64("amount", req.Amount),
	)
	return credit, nil
}

func (s *Service) Sum(ctx context.Context, tenantID, creditType string, from, to time.Time) (int64, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, domain.ErrInvalidTenant
	}
	if strings.TrimSpace(creditType) == "" {
		return 0, domain.ErrInvalidType
	}
	if !from.Before(to) {
		return 0, domain.ErrInvalidRange
	}
	return s.repo.Sum(ctx, s.db, tenantID, creditType, from.UTC(), to.UTC())
}
