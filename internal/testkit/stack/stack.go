// Package stack assembles the catalog and subscription services over a
// throwaway database, plus an in-memory payment processor, for tests of
// the components built on top of them.
package stack

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tenantbilling/internal/cache"
	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/tenantbilling/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/tenantbilling/internal/catalog/service"
	"github.com/smallbiznis/tenantbilling/internal/clock"
	"github.com/smallbiznis/tenantbilling/internal/config"
	"github.com/smallbiznis/tenantbilling/internal/migration"
	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/tenantbilling/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/tenantbilling/internal/subscription/service"
	"github.com/smallbiznis/tenantbilling/internal/testkit"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Stack struct {
	DB               *gorm.DB
	Log              *zap.Logger
	Node             *snowflake.Node
	Clock            *clock.FakeClock
	Cache            *cache.MemoryCache
	Billing          *config.BillingConfigHolder
	Catalog          catalogdomain.Service
	Subscriptions    subscriptiondomain.Service
	SubscriptionRepo subscriptiondomain.Repository
	Processor        *FakeProcessor
}

func New(t testing.TB) *Stack {
	t.Helper()

	db := testkit.NewDB(t)
	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s := &Stack{
		DB:               db,
		Log:              zap.NewNop(),
		Node:             testkit.NewNode(t),
		Clock:            testkit.NewClock(),
		Billing:          testkit.NewBilling(),
		SubscriptionRepo: subscriptionrepository.Provide(),
		Processor:        NewFakeProcessor(),
	}
	s.Cache = testkit.NewCache(s.Clock)
	s.Catalog = catalogservice.New(catalogservice.Params{
		DB:      db,
		Log:     s.Log,
		GenID:   s.Node,
		Repo:    catalogrepository.Provide(),
		Cache:   s.Cache,
		Billing: s.Billing,
		Clock:   s.Clock,
	})
	s.Subscriptions = subscriptionservice.New(subscriptionservice.Params{
		DB:      db,
		Log:     s.Log,
		GenID:   s.Node,
		Repo:    s.SubscriptionRepo,
		Cache:   s.Cache,
		Billing: s.Billing,
		Clock:   s.Clock,
	})
	return s
}

// AddProduct upserts p into the catalog and returns the hydrated result.
func (s *Stack) AddProduct(t testing.TB, p catalogdomain.Product) *catalogdomain.Product {
	t.Helper()
	out, err := s.Catalog.Upsert(context.Background(), p)
	if err != nil {
		t.Fatalf("upsert product %s: %v", p.Title, err)
	}
	return out
}

// Customer makes sure tenantID has a subscription bound to customerID.
func (s *Stack) Customer(t testing.TB, tenantID, customerID string) *subscriptiondomain.TenantSubscription {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Subscriptions.EnsureTenantSubscription(ctx, tenantID); err != nil {
		t.Fatalf("ensure subscription: %v", err)
	}
	if err := s.Subscriptions.SetExternalCustomer(ctx, tenantID, customerID); err != nil {
		t.Fatalf("set customer: %v", err)
	}
	sub, err := s.Subscriptions.GetTenantSubscription(ctx, tenantID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	return sub
}

// Own provisions an instance of product for tenantID directly.
func (s *Stack) Own(t testing.TB, tenantID string, product *catalogdomain.Product, quantity int64, externalSubscriptionID string) *subscriptiondomain.TenantSubscriptionProduct {
	t.Helper()
	ctx := context.Background()
	owner, err := s.Subscriptions.EnsureTenantSubscription(ctx, tenantID)
	if err != nil {
		t.Fatalf("ensure subscription: %v", err)
	}

	now := s.Clock.Now()
	instance := &subscriptiondomain.TenantSubscriptionProduct{
		ID:                   s.Node.Generate().String(),
		TenantSubscriptionID: owner.ID,
		ProductID:            product.ID,
		Quantity:             quantity,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if externalSubscriptionID != "" {
		instance.ExternalSubscriptionID = &externalSubscriptionID
	}
	if err := s.SubscriptionRepo.InsertProduct(ctx, s.DB, instance); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	var rows []subscriptiondomain.TenantSubscriptionProductPrice
	for _, fp := range product.FlatPrices {
		id := fp.ID
		rows = append(rows, subscriptiondomain.TenantSubscriptionProductPrice{
			ID:                          s.Node.Generate().String(),
			TenantSubscriptionProductID: instance.ID,
			FlatPriceID:                 &id,
			CreatedAt:                   now,
		})
	}
	for _, up := range product.UsagePrices {
		id := up.ID
		rows = append(rows, subscriptiondomain.TenantSubscriptionProductPrice{
			ID:                          s.Node.Generate().String(),
			TenantSubscriptionProductID: instance.ID,
			UsageBasedPriceID:           &id,
			CreatedAt:                   now,
		})
	}
	if err := s.SubscriptionRepo.InsertProductPrices(ctx, s.DB, rows); err != nil {
		t.Fatalf("insert prices: %v", err)
	}
	if err := s.Subscriptions.Invalidate(ctx, tenantID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	instance.Prices = rows
	return instance
}

// Flat builds an active flat price.
func Flat(currency string, period catalogdomain.BillingPeriod, amount string, externalID string) catalogdomain.FlatPrice {
	return catalogdomain.FlatPrice{
		ExternalPriceID: externalID,
		Currency:        currency,
		BillingPeriod:   period,
		Amount:          decimal.RequireFromString(amount),
		Active:          true,
	}
}

// Metered builds an active per-unit metered price with one unbounded tier.
func Metered(currency, unit, unitAmount, externalID string) catalogdomain.UsageBasedPrice {
	return catalogdomain.UsageBasedPrice{
		ExternalPriceID: externalID,
		Currency:        currency,
		UnitName:        unit,
		UsageType:       catalogdomain.UsageTypeMetered,
		Aggregation:     catalogdomain.AggregationSum,
		TierMode:        catalogdomain.TierModeGraduated,
		BillingScheme:   catalogdomain.BillingSchemePerUnit,
		Active:          true,
		Tiers: []catalogdomain.Tier{
			{FromQuantity: 0, UnitAmount: decimal.RequireFromString(unitAmount), FlatAmount: decimal.Zero},
		},
	}
}

func Feature(name string, limit catalogdomain.LimitType, value int64, accumulate bool) catalogdomain.Feature {
	return catalogdomain.Feature{Name: name, Title: name, LimitType: limit, Value: value, Accumulate: accumulate}
}
