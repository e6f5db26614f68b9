package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/tenantbilling/internal/cache"
	"github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	"github.com/smallbiznis/tenantbilling/internal/clock"
	"github.com/smallbiznis/tenantbilling/internal/config"
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
		log:     p.Log.Named("catalog.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		cache:   p.Cache,
		billing: p.Billing,
		clock:   p.Clock,
	}
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ListFilter) ([]domain.Product, error) {
	products, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	var wanted map[string]struct{}
	if len(filter.IDs) > 0 {
		wanted = make(map[string]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			wanted[strings.TrimSpace(id)] = struct{}{}
		}
	}

	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if filter.PublicOnly && !p.Public {
			continue
		}
		if filter.ActiveOnly && !p.Active {
			continue
		}
		if wanted != nil {
			if _, ok := wanted[p.ID]; !ok {
				continue
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrInvalidID
	}

	products, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range products {
		if products[i].ID == id {
			return &products[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

// ResolveExternalPrice maps a payment-processor price reference back to
// the local flat or usage-based price.
func (s *Service) ResolveExternalPrice(ctx context.Context, externalPriceID string) (*domain.ResolvedPrice, error) {
	externalPriceID = strings.TrimSpace(externalPriceID)
	if externalPriceID == "" {
		return nil, domain.ErrNotFound
	}
	return s.findPrice(ctx, func(fp *domain.FlatPrice) bool {
		return fp.ExternalPriceID == externalPriceID
	}, func(up *domain.UsageBasedPrice) bool {
		return up.ExternalPriceID == externalPriceID
	})
}

func (s *Service) GetPrice(ctx context.Context, priceID string) (*domain.ResolvedPrice, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return nil, domain.ErrInvalidID
	}
	return s.findPrice(ctx, func(fp *domain.FlatPrice) bool {
		return fp.ID == priceID
	}, func(up *domain.UsageBasedPrice) bool {
		return up.ID == priceID
	})
}

func (s *Service) findPrice(
	ctx context.Context,
	matchFlat func(*domain.FlatPrice) bool,
	matchUsage func(*domain.UsageBasedPrice) bool,
) (*domain.ResolvedPrice, error) {
	products, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range products {
		product := &products[i]
		for j := range product.FlatPrices {
			if matchFlat(&product.FlatPrices[j]) {
				return &domain.ResolvedPrice{Product: product, Flat: &product.FlatPrices[j]}, nil
			}
		}
		for j := range product.UsagePrices {
			if matchUsage(&product.UsagePrices[j]) {
				return &domain.ResolvedPrice{Product: product, Usage: &product.UsagePrices[j]}, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

// Features returns one definition per feature name across the catalog.
// The first product (by display order) declaring a name wins.
func (s *Service) Features(ctx context.Context) ([]domain.Feature, error) {
	products, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var features []domain.Feature
	for _, p := range products {
		for _, f := range p.Features {
			if _, ok := seen[f.Name]; ok {
				continue
			}
			seen[f.Name] = struct{}{}
			features = append(features, f)
		}
	}
	return features, nil
}

func (s *Service) loadAll(ctx context.Context) ([]domain.Product, error) {
	key := cache.CatalogProductsKey()

	var cached []domain.Product
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.log.Warn("catalog cache read failed", zap.Error(err))
	}
	if hit {
		return cached, nil
	}

	products, err := s.hydrate(ctx, s.db)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, products, s.billing.Get().CatalogCacheTTL); err != nil {
		s.log.Warn("catalog cache write failed", zap.Error(err))
	}
	return products, nil
}

func (s *Service) hydrate(ctx context.Context, db *gorm.DB) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return []domain.Product{}, nil
	}

	productIDs := make([]string, 0, len(products))
	index := make(map[string]int, len(products))
	for i, p := range products {
		productIDs = append(productIDs, p.ID)
		index[p.ID] = i
	}

	flat, err := s.repo.ListFlatPrices(ctx, db, productIDs)
	if err != nil {
		return nil, err
	}
	for _, fp := range flat {
		i := index[fp.ProductID]
		products[i].FlatPrices = append(products[i].FlatPrices, fp)
	}

	usage, err := s.repo.ListUsagePrices(ctx, db, productIDs)
	if err != nil {
		return nil, err
	}
	usageIDs := make([]string, 0, len(usage))
	for _, up := range usage {
		usageIDs = append(usageIDs, up.ID)
	}
	tiers, err := s.repo.ListTiers(ctx, db, usageIDs)
	if err != nil {
		return nil, err
	}
	tiersByPrice := make(map[string][]domain.Tier, len(usage))
	for _, tier := range tiers {
		tiersByPrice[tier.UsageBasedPriceID] = append(tiersByPrice[tier.UsageBasedPriceID], tier)
	}
	for _, up := range usage {
		up.Tiers = domain.SortTiers(tiersByPrice[up.ID])
		i := index[up.ProductID]
		products[i].UsagePrices = append(products[i].UsagePrices, up)
	}

	features, err := s.repo.ListFeatures(ctx, db, productIDs)
	if err != nil {
		return nil, err
	}
	for _, f := range features {
		i := index[f.ProductID]
		products[i].Features = append(products[i].Features, f)
	}

	return products, nil
}

// Upsert creates or replaces a product by code. Child rows are matched on
// their natural keys so ids referenced by subscriptions stay stable;
// prices dropped from the definition are deactivated, not deleted.
func (s *Service) Upsert(ctx context.Context, input domain.Product) (*domain.Product, error) {
	product := normalizeProduct(input)
	if product.Code == "" {
		product.Code = slug.Make(product.Title)
	}
	if err := domain.ValidateProduct(product); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindProductByCode(ctx, tx, product.Code)
		if err != nil {
			return err
		}

		current := domain.Product{}
		if existing != nil {
			product.ID = existing.ID
			product.CreatedAt = existing.CreatedAt
			hydrated, err := s.hydrateOne(ctx, tx, *existing)
			if err != nil {
				return err
			}
			current = hydrated
		} else {
			if product.ID == "" {
				product.ID = s.genID.Generate().String()
			}
			product.CreatedAt = now
		}
		product.UpdatedAt = now

		if err := s.repo.SaveProduct(ctx, tx, &product); err != nil {
			return fmt.Errorf("save product: %w", err)
		}
		return s.saveChildren(ctx, tx, &product, current, now)
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, cache.CatalogProductsKey()); err != nil {
		s.log.Warn("catalog cache invalidation failed", zap.Error(err))
	}

	s.log.Info("product upserted",
		zap.String("product_id", product.ID),
		zap.String("code", product.Code),
	)
	return s.GetProduct(ctx, product.ID)
}

func (s *Service) hydrateOne(ctx context.Context, db *gorm.DB, product domain.Product) (domain.Product, error) {
	ids := []string{product.ID}

	flat, err := s.repo.ListFlatPrices(ctx, db, ids)
	if err != nil {
		return product, err
	}
	usage, err := s.repo.ListUsagePrices(ctx, db, ids)
	if err != nil {
		return product, err
	}
	features, err := s.repo.ListFeatures(ctx, db, ids)
	if err != nil {
		return product, err
	}

	product.FlatPrices = flat
	product.UsagePrices = usage
	product.Features = features
	return product, nil
}

func (s *Service) saveChildren(ctx context.Context, tx *gorm.DB, product *domain.Product, current domain.Product, now time.Time) error {
	flatIDs := make(map[string]string, len(current.FlatPrices))
	for _, fp := range current.FlatPrices {
		flatIDs[fp.Currency+"|"+string(fp.BillingPeriod)] = fp.ID
	}
	keepFlat := make([]string, 0, len(product.FlatPrices))
	for i := range product.FlatPrices {
		fp := &product.FlatPrices[i]
		fp.ProductID = product.ID
		if id, ok := flatIDs[fp.Currency+"|"+string(fp.BillingPeriod)]; ok {
			fp.ID = id
		} else if fp.ID == "" {
			fp.ID = s.genID.Generate().String()
		}
		if fp.CreatedAt.IsZero() {
			fp.CreatedAt = now
		}
		if err := s.repo.SaveFlatPrice(ctx, tx, fp); err != nil {
			return fmt.Errorf("save flat price: %w", err)
		}
		keepFlat = append(keepFlat, fp.ID)
	}
	if err := s.repo.DeactivateFlatPricesExcept(ctx, tx, product.ID, keepFlat); err != nil {
		return err
	}

	usageIDs := make(map[string]string, len(current.UsagePrices))
	for _, up := range current.UsagePrices {
		usageIDs[up.Currency+"|"+up.UnitName] = up.ID
	}
	keepUsage := make([]string, 0, len(product.UsagePrices))
	for i := range product.UsagePrices {
		up := &product.UsagePrices[i]
		up.ProductID = product.ID
		if id, ok := usageIDs[up.Currency+"|"+up.UnitName]; ok {
			up.ID = id
		} else if up.ID == "" {
			up.ID = s.genID.Generate().String()
		}
		if up.CreatedAt.IsZero() {
			up.CreatedAt = now
		}
		if err := s.repo.SaveUsagePrice(ctx, tx, up); err != nil {
			return fmt.Errorf("save usage price: %w", err)
		}
		for j := range up.Tiers {
			up.Tiers[j].ID = s.genID.Generate().String()
			up.Tiers[j].UsageBasedPriceID = up.ID
		}
		if err := s.repo.ReplaceTiers(ctx, tx, up.ID, up.Tiers); err != nil {
			return fmt.Errorf("replace tiers: %w", err)
		}
		keepUsage = append(keepUsage, up.ID)
	}
	if err := s.repo.DeactivateUsagePricesExcept(ctx, tx, product.ID, keepUsage); err != nil {
		return err
	}

	featureIDs := make(map[string]string, len(current.Features))
	for _, f := range current.Features {
		featureIDs[f.Name] = f.ID
	}
	keepFeatures := make([]string, 0, len(product.Features))
	for i := range product.Features {
		f := &product.Features[i]
		f.ProductID = product.ID
		if id, ok := featureIDs[f.Name]; ok {
			f.ID = id
		} else if f.ID == "" {
			f.ID = s.genID.Generate().String()
		}
		if err := s.repo.SaveFeature(ctx, tx, f); err != nil {
			return fmt.Errorf("save feature: %w", err)
		}
		keepFeatures = append(keepFeatures, f.ID)
	}
	return s.repo.DeleteFeaturesExcept(ctx, tx, product.ID, keepFeatures)
}

func normalizeProduct(in domain.Product) domain.Product {
	out := in
	out.Code = strings.TrimSpace(in.Code)
	out.Title = strings.TrimSpace(in.Title)
	out.PricingModel = domain.PricingModel(strings.ToUpper(strings.TrimSpace(string(in.PricingModel))))

	out.FlatPrices = make([]domain.FlatPrice, len(in.FlatPrices))
	for i, fp := range in.FlatPrices {
		fp.Currency = normalizeCurrency(fp.Currency)
		fp.BillingPeriod = domain.ParseBillingPeriod(string(fp.BillingPeriod))
		fp.ExternalPriceID = strings.TrimSpace(fp.ExternalPriceID)
		out.FlatPrices[i] = fp
	}

	out.UsagePrices = make([]domain.UsageBasedPrice, len(in.UsagePrices))
	for i, up := range in.UsagePrices {
		up.Currency = normalizeCurrency(up.Currency)
		up.UnitName = strings.TrimSpace(up.UnitName)
		up.ExternalPriceID = strings.TrimSpace(up.ExternalPriceID)
		up.Tiers = domain.SortTiers(up.Tiers)
		out.UsagePrices[i] = up
	}

	out.Features = make([]domain.Feature, len(in.Features))
	for i, f := range in.Features {
		f.Name = strings.TrimSpace(f.Name)
		f.LimitType = domain.LimitType(strings.ToUpper(strings.TrimSpace(string(f.LimitType))))
		if f.Title == "" {
			f.Title = f.Name
		}
		if f.DisplayOrder == 0 {
			f.DisplayOrder = i
		}
		out.Features[i] = f
	}
	return out
}

func normalizeCurrency(currency string) string {
	return strings.ToLower(strings.TrimSpace(currency))
}
