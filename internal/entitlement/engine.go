package entitlement

import (
	"context"
	"strings"

	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	"github.com/smallbiznis/tenantbilling/internal/clock"
	creditdomain "github.com/smallbiznis/tenantbilling/internal/credit/domain"
	"github.com/smallbiznis/tenantbilling/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/tenantbilling/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const featureConcurrency = 8

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	Catalog       catalogdomain.Service
	Subscriptions subscriptiondomain.Service
	Tenants       tenantdomain.Service
	Credits       creditdomain.Service
	Metrics       *metrics.Metrics `optional:"true"`
}

type Engine struct {
	log           *zap.Logger
	clock         clock.Clock
	catalog       catalogdomain.Service
	subscriptions subscriptiondomain.Service
	counters      *Counters
	metrics       *metrics.Metrics
}

func NewEngine(p Params) *Engine {
	return &Engine{
		log:           p.Log.Named("entitlement.engine"),
		clock:         p.Clock,
		catalog:       p.Catalog,
		subscriptions: p.Subscriptions,
		counters:      NewDefaultCounters(p.Tenants, p.Credits),
		metrics:       p.Metrics,
	}
}

// WithCounters swaps the counter registry.
func (e *Engine) WithCounters(counters *Counters) *Engine {
	e.counters = counters
	return e
}

// owned is a product instance joined with its catalog definition.
type owned struct {
	instance subscriptiondomain.TenantSubscriptionProduct
	product  *catalogdomain.Product
}

type snapshot struct {
	tenantID string
	owned    []owned
	universe []catalogdomain.Feature
}

func (e *Engine) load(ctx context.Context, tenantID string) (*snapshot, error) {
	ownership, err := e.subscriptions.GetActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	universe, err := e.catalog.Features(ctx)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{tenantID: tenantID, universe: universe}
	for _, instance := range ownership.Products {
		product, err := e.catalog.GetProduct(ctx, instance.ProductID)
		if err != nil {
			e.log.Warn("owned product missing from catalog",
				zap.String("tenant_id", tenantID),
				zap.String("product_id", instance.ProductID),
				zap.Error(err),
			)
			continue
		}
		snap.owned = append(snap.owned, owned{instance: instance, product: product})
	}
	return snap, nil
}

// GetPlanFeaturesUsage evaluates every feature known to the catalog.
func (e *Engine) GetPlanFeaturesUsage(ctx context.Context, tenantID string) ([]FeatureUsage, error) {
	tenantID = strings.TrimSpace(tenantID)
	snap, err := e.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]FeatureUsage, len(snap.universe))
	var g errgroup.Group
	g.SetLimit(featureConcurrency)
	for i, definition := range snap.universe {
		g.Go(func() error {
			out[i] = e.evaluate(ctx, snap, definition)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// GetPlanFeatureUsage evaluates a single feature. Unknown names are
// reported as not included.
func (e *Engine) GetPlanFeatureUsage(ctx context.Context, tenantID, featureName string) (*FeatureUsage, error) {
	tenantID = strings.TrimSpace(tenantID)
	featureName = strings.TrimSpace(featureName)
	snap, err := e.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	definition := catalogdomain.Feature{Name: featureName, Title: featureName, LimitType: catalogdomain.LimitNotIncluded}
	for _, f := range snap.universe {
		if f.Name == featureName {
			definition = f
			break
		}
	}
	usage := e.evaluate(ctx, snap, definition)
	return &usage, nil
}

func (e *Engine) evaluate(ctx context.Context, snap *snapshot, definition catalogdomain.Feature) FeatureUsage {
	usage := FeatureUsage{Name: definition.Name, Title: definition.Title}

	var (
		grants  []Grant
		sources []owned
	)
	for _, o := range snap.owned {
		for _, f := range o.product.Features {
			if f.Name != definition.Name {
				continue
			}
			grants = append(grants, Grant{Feature: f, Quantity: o.instance.Quantity})
			sources = append(sources, o)
		}
	}

	if len(grants) == 0 {
		usage.Type = catalogdomain.LimitNotIncluded
		usage.Message = MessageNoSubscription
		if len(snap.owned) > 0 {
			usage.Message = MessageUpgrade
		}
		e.metrics.RecordEntitlementCheck(string(usage.Type))
		return usage
	}

	merged := Merge(grants)
	usage.Type = merged.Type
	usage.Value = merged.Value
	e.metrics.RecordEntitlementCheck(string(usage.Type))

	switch merged.Type {
	case catalogdomain.LimitIncluded:
		usage.Enabled = true
	case catalogdomain.LimitUnlimited:
		usage.Enabled = true
		usage.Remaining = &Remaining{Unlimited: true}
	case catalogdomain.LimitMax, catalogdomain.LimitMonthly:
		used, err := e.counters.For(definition.Name).Count(ctx, snap.tenantID, definition.Name, e.period(sources))
		if err != nil {
			e.log.Warn("feature usage count failed",
				zap.String("tenant_id", snap.tenantID),
				zap.String("feature", definition.Name),
				zap.Error(err),
			)
			usage.Message = MessageUnavailable
			return usage
		}
		remaining := merged.Value - used
		if remaining < 0 {
			remaining = 0
		}
		usage.Used = used
		usage.Remaining = &Remaining{Value: remaining}
		usage.Enabled = remaining > 0
		if !usage.Enabled {
			usage.Message = MessageLimitReached
		}
	case catalogdomain.LimitNotIncluded:
		usage.Message = MessageUpgrade
	default:
		usage.Message = MessageUnavailable
	}
	return usage
}

// period is the current subscription period of the first granting product
// that tracks one, else the calendar month.
func (e *Engine) period(sources []owned) Period {
	now := e.clock.Now()
	for _, o := range sources {
		start, end := o.instance.CurrentPeriodStart, o.instance.CurrentPeriodEnd
		if start == nil || end == nil {
			continue
		}
		if !now.Before(*start) && now.Before(*end) {
			return Period{From: start.UTC(), To: end.UTC()}
		}
	}
	return CalendarMonth(now)
}
