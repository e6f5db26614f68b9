package entitlement

import (
	"context"
	"time"

	creditdomain "github.com/smallbiznis/tenantbilling/internal/credit/domain"
	tenantdomain "github.com/smallbiznis/tenantbilling/internal/tenant/domain"
)

// FeatureUsers is counted from tenant membership rather than the ledger.
const FeatureUsers = "users"

// Period is a half-open usage window [From, To).
type Period struct {
	From time.Time
	To   time.Time
}

// CalendarMonth returns the UTC month containing t.
func CalendarMonth(t time.Time) Period {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{From: from, To: from.AddDate(0, 1, 0)}
}

// Counter reports how much of a feature a tenant has used in a period.
type Counter interface {
	Count(ctx context.Context, tenantID, feature string, period Period) (int64, error)
}

type CounterFunc func(ctx context.Context, tenantID, feature string, period Period) (int64, error)

func (f CounterFunc) Count(ctx context.Context, tenantID, feature string, period Period) (int64, error) {
	return f(ctx, tenantID, feature, period)
}

// Counters routes features to dedicated counters and everything else to a
// fallback.
type Counters struct {
	byFeature map[string]Counter
	fallback  Counter
}

func NewCounters(fallback Counter) *Counters {
	return &Counters{byFeature: make(map[string]Counter), fallback: fallback}
}

func (c *Counters) Register(feature string, counter Counter) *Counters {
	c.byFeature[feature] = counter
	return c
}

func (c *Counters) For(feature string) Counter {
	if counter, ok := c.byFeature[feature]; ok {
		return counter
	}
	return c.fallback
}

// NewDefaultCounters counts seats from tenant users and every other
// feature from the credit ledger entries of the same type.
func NewDefaultCounters(tenants tenantdomain.Service, credits creditdomain.Service) *Counters {
	return NewCounters(CounterFunc(func(ctx context.Context, tenantID, feature string, period Period) (int64, error) {
		return credits.Sum(ctx, tenantID, feature, period.From, period.To)
	})).Register(FeatureUsers, CounterFunc(func(ctx context.Context, tenantID, _ string, _ Period) (int64, error) {
		return tenants.CountUsers(ctx, tenantID)
	}))
}
