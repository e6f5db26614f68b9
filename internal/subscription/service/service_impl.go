package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbilling/internal/cache"
	"github.com/smallbiznis/tenantbilling/internal/clock"
	"github.com/smallbiznis/tenantbilling/internal/config"
	"github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	pkgdb "github.com/smallbiznis/tenantbilling/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Cache   cache.Cache
	Billing *config.BillingConfigHolder
	Clock   clock.Clock
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	cache   cache.Cache
	billing *config.BillingConfigHolder
	clock   clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		cache:   p.Cache,
		billing: p.Billing,
		clock:   p.Clock,
	}
}

// EnsureTenantSubscription returns the tenant's subscription, creating it on
// first use. Concurrent creators converge on the same row.
func (s *Service) EnsureTenantSubscription(ctx context.Context, tenantID string) (*domain.TenantSubscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}

	existing, err := s.repo.FindByTenantID(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clock.Now()
	sub := &domain.TenantSubscription{
		ID:        s.genID.Generate().String(),
		TenantID:  tenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, sub); err != nil {
		if !pkgdb.IsDuplicateKeyErr(err) {
			return nil, err
		}
		existing, err = s.repo.FindByTenantID(ctx, s.db, tenantID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, domain.ErrNotFound
		}
		return existing, nil
	}

	s.invalidate(ctx, tenantID)
	return sub, nil
}

func (s *Service) GetTenantSubscription(ctx context.Context, tenantID string) (*domain.TenantSubscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}
	sub, err := s.repo.FindByTenantID(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrNotFound
	}
	return sub, nil
}

func (s *Service) SetExternalCustomer(ctx context.Context, tenantID, externalCustomerID string) error {
	externalCustomerID = strings.TrimSpace(externalCustomerID)
	if externalCustomerID == "" {
		return domain.ErrInvalidSubscription
	}
	sub, err := s.GetTenantSubscription(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateExternalCustomer(ctx, s.db, sub.ID, externalCustomerID); err != nil {
		return err
	}
	s.invalidate(ctx, sub.TenantID)
	return nil
}

// GetActive returns the tenant's ownership restricted to product instances
// that have not ended. The unfiltered set is cached; filtering always uses
// the current clock so a cached entry never outlives an ends_at boundary.
func (s *Service) GetActive(ctx context.Context, tenantID string) (*domain.Ownership, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}

	key := cache.SubscriptionKey(tenantID)
	var ownership domain.Ownership
	hit, err := s.cache.Get(ctx, key, &ownership)
	if err != nil {
		s.log.Warn("subscription cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	if !hit {
		loaded, err := s.load(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		ownership = *loaded
		if err := s.cache.Set(ctx, key, ownership, s.billing.Get().SubscriptionCacheTTL); err != nil {
			s.log.Warn("subscription cache write failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}

	active := ownership.ActiveAt(s.clock.Now())
	return &active, nil
}

func (s *Service) load(ctx context.Context, tenantID string) (*domain.Ownership, error) {
	sub, err := s.repo.FindByTenantID(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &domain.Ownership{Products: []domain.TenantSubscriptionProduct{}}, nil
	}

	products, err := s.repo.ListProducts(ctx, s.db, sub.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	prices, err := s.repo.ListProductPrices(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string][]domain.TenantSubscriptionProductPrice, len(products))
	for _, price := range prices {
		byProduct[price.TenantSubscriptionProductID] = append(byProduct[price.TenantSubscriptionProductID], price)
	}
	for i := range products {
		products[i].Prices = byProduct[products[i].ID]
	}
	if products == nil {
		products = []domain.TenantSubscriptionProduct{}
	}
	return &domain.Ownership{Subscription: sub, Products: products}, nil
}

func (s *Service) FindByExternalSubscription(ctx context.Context, externalSubscriptionID string) ([]domain.TenantSubscriptionProduct, *domain.TenantSubscription, error) {
	externalSubscriptionID = strings.TrimSpace(externalSubscriptionID)
	if externalSubscriptionID == "" {
		return nil, nil, domain.ErrProductNotFound
	}

	products, err := s.repo.ListProductsByExternalSubscription(ctx, s.db, externalSubscriptionID)
	if err != nil {
		return nil, nil, err
	}
	if len(products) == 0 {
		return nil, nil, domain.ErrProductNotFound
	}
	sub, err := s.repo.FindByID(ctx, s.db, products[0].TenantSubscriptionID)
	if err != nil {
		return nil, nil, err
	}
	if sub == nil {
		return nil, nil, domain.ErrNotFound
	}
	return products, sub, nil
}

func (s *Service) UpdateLifecycle(ctx context.Context, tenantID, productInstanceID string, update domain.LifecycleUpdate) error {
	if strings.TrimSpace(productInstanceID) == "" {
		return domain.ErrProductNotFound
	}
	if err := s.repo.UpdateLifecycle(ctx, s.db, productInstanceID, update); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)
	return nil
}

func (s *Service) SetPriceItem(ctx context.Context, tenantID, priceRowID, externalSubscriptionItemID string) error {
	if strings.TrimSpace(priceRowID) == "" || strings.TrimSpace(externalSubscriptionItemID) == "" {
		return domain.ErrInvalidSubscription
	}
	if err := s.repo.UpdatePriceItem(ctx, s.db, priceRowID, externalSubscriptionItemID); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)
	return nil
}

func (s *Service) Invalidate(ctx context.Context, tenantID string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return domain.ErrInvalidTenant
	}
	return s.cache.Invalidate(ctx, cache.SubscriptionKey(tenantID))
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	if err := s.Invalidate(ctx, tenantID); err != nil && !errors.Is(err, domain.ErrInvalidTenant) {
		s.log.Warn("subscription cache invalidate failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}
