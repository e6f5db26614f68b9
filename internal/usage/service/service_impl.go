package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	"github.com/smallbiznis/tenantbilling/internal/clock"
	"github.com/smallbiznis/tenantbilling/internal/config"
	"github.com/smallbiznis/tenantbilling/internal/observability/metrics"
	"github.com/smallbiznis/tenantbilling/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/tenantbilling/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	"github.com/smallbiznis/tenantbilling/internal/usage/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Billing       *config.BillingConfigHolder
	Repo          domain.Repository
	Catalog       catalogdomain.Service
	Subscriptions subscriptiondomain.Service
	Processor     paymentdomain.Processor
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	billing       *config.BillingConfigHolder
	repo          domain.Repository
	catalog       catalogdomain.Service
	subscriptions subscriptiondomain.Service
	processor     paymentdomain.Processor
	metrics       *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("usage.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		billing:       p.Billing,
		repo:          p.Repo,
		catalog:       p.Catalog,
		subscriptions: p.Subscriptions,
		processor:     p.Processor,
		metrics:       p.Metrics,
	}
}

// target is one owned metered price to report against.
type target struct {
	tenantID string
	instance subscriptiondomain.TenantSubscriptionProduct
	row      subscriptiondomain.TenantSubscriptionProductPrice
	price    *catalogdomain.UsageBasedPrice
}

func (s *Service) ReportUsage(ctx context.Context, tenantID, unitName string) (*domain.ReportResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	unitName = strings.TrimSpace(unitName)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}
	if unitName == "" {
		return nil, domain.ErrInvalidUnit
	}

	ctx, span := tracing.StartSpan(ctx, "usage.report",
		attribute.String("tenant_id", tenantID),
		attribute.String("unit_name", unitName),
	)
	result, err := s.reportUsage(ctx, tenantID, unitName)
	tracing.EndSpan(span, err)
	return result, err
}

func (s *Service) reportUsage(ctx context.Context, tenantID, unitName string) (*domain.ReportResult, error) {
	targets, err := s.targets(ctx, tenantID, unitName)
	if err != nil {
		return nil, err
	}

	result := &domain.ReportResult{UnitName: unitName, Reported: []domain.UsageRecord{}}
	if len(targets) == 0 {
		return result, nil
	}

	var (
		mu   sync.Mutex
		errs error
	)
	// Tasks never return an error so one failure cannot cancel siblings.
	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for _, t := range targets {
		g.Go(func() error {
			record, err := s.reportOne(ctx, t)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				errs = multierr.Append(errs, &domain.ReportError{
					ProductInstanceID: t.instance.ID,
					PriceRowID:        t.row.ID,
					Err:               err,
				})
				s.metrics.RecordUsageReport(metrics.ResultFailure)
				return nil
			}
			result.Reported = append(result.Reported, *record)
			s.metrics.RecordUsageReport(metrics.ResultSuccess)
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		s.log.Warn("usage report partially failed",
			zap.String("tenant_id", tenantID),
			zap.String("unit_name", unitName),
			zap.Int("reported", len(result.Reported)),
			zap.Int("failed", result.Failed),
			zap.Error(errs),
		)
	}
	return result, errs
}

// targets lists price rows of live external subscriptions whose usage
// unit is unitName.
func (s *Service) targets(ctx context.Context, tenantID, unitName string) ([]target, error) {
	ownership, err := s.subscriptions.GetActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var targets []target
	for _, instance := range ownership.Products {
		if instance.ExternalSubscriptionID == nil || *instance.ExternalSubscriptionID == "" {
			continue
		}
		for _, row := range instance.Prices {
			if row.UsageBasedPriceID == nil {
				continue
			}
			resolved, err := s.catalog.GetPrice(ctx, *row.UsageBasedPriceID)
			if err != nil {
				if errors.Is(err, catalogdomain.ErrNotFound) {
					s.log.Warn("owned usage price missing from catalog",
						zap.String("tenant_id", tenantID),
						zap.String("usage_based_price_id", *row.UsageBasedPriceID),
					)
					continue
				}
				return nil, err
			}
			if resolved.Usage == nil || resolved.Usage.UnitName != unitName {
				continue
			}
			targets = append(targets, target{tenantID: tenantID, instance: instance, row: row, price: resolved.Usage})
		}
	}
	return targets, nil
}

func (s *Service) reportOne(ctx context.Context, t target) (*domain.UsageRecord, error) {
	itemID, stored, err := s.subscriptionItemID(ctx, t)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	key, err := s.report(ctx, itemID, now)
	if err != nil && stored && errors.Is(err, paymentdomain.ErrUnknownSubscriptionItem) {
		// The item was swapped at the processor. Retry once on the current one.
		staleID := itemID
		if itemID, err = s.currentItemID(ctx, t); err != nil {
			return nil, err
		}
		if itemID == staleID {
			return nil, domain.ErrSubscriptionItemGone
		}
		s.log.Info("subscription item replaced at processor",
			zap.String("tenant_id", t.tenantID),
			zap.String("price_row_id", t.row.ID),
			zap.String("stale_item_id", staleID),
			zap.String("item_id", itemID),
		)
		if err := s.subscriptions.SetPriceItem(ctx, t.tenantID, t.row.ID, itemID); err != nil {
			s.log.Warn("persist replaced subscription item failed", zap.String("price_row_id", t.row.ID), zap.Error(err))
		}
		key, err = s.report(ctx, itemID, now)
	}
	if err != nil {
		return nil, err
	}

	record := &domain.UsageRecord{
		ID:                               s.genID.Generate().String(),
		TenantSubscriptionProductPriceID: t.row.ID,
		ExternalSubscriptionItemID:       itemID,
		Quantity:                         1,
		IdempotencyKey:                   key,
		RecordedAt:                       now,
	}
	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		return nil, err
	}
	return record, nil
}

// report sends one unit of usage under a fresh idempotency key.
func (s *Service) report(ctx context.Context, itemID string, at time.Time) (string, error) {
	key := ulid.Make().String()
	return key, s.processor.ReportUsage(ctx, paymentdomain.UsageReport{
		SubscriptionItemID: itemID,
		Quantity:           1,
		Timestamp:          at,
		IdempotencyKey:     key,
	})
}

// subscriptionItemID prefers the item recorded at provisioning and falls
// back to the processor's current view of the subscription. stored reports
// whether the recorded item was used.
func (s *Service) subscriptionItemID(ctx context.Context, t target) (itemID string, stored bool, err error) {
	if t.row.ExternalSubscriptionItemID != nil && *t.row.ExternalSubscriptionItemID != "" {
		return *t.row.ExternalSubscriptionItemID, true, nil
	}
	itemID, err = s.currentItemID(ctx, t)
	return itemID, false, err
}

func (s *Service) currentItemID(ctx context.Context, t target) (string, error) {
	sub, err := s.processor.GetSubscription(ctx, *t.instance.ExternalSubscriptionID)
	if err != nil {
		return "", err
	}
	item, ok := sub.ItemForPrice(t.price.ExternalPriceID)
	if !ok {
		return "", domain.ErrSubscriptionItemGone
	}
	return item.ID, nil
}

func (s *Service) concurrency() int {
	if n := s.billing.Get().UsageReportConcurrency; n > 0 {
		return n
	}
	return 1
}
