package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/tenantbilling/internal/checkout/domain"
	checkoutrepository "github.com/smallbiznis/tenantbilling/internal/checkout/repository"
	checkoutservice "github.com/smallbiznis/tenantbilling/internal/checkout/service"
	"github.com/smallbiznis/tenantbilling/internal/config"
	creditdomain "github.com/smallbiznis/tenantbilling/internal/credit/domain"
	creditrepository "github.com/smallbiznis/tenantbilling/internal/credit/repository"
	creditservice "github.com/smallbiznis/tenantbilling/internal/credit/service"
	paymentdomain "github.com/smallbiznis/tenantbilling/internal/payment/domain"
	"github.com/smallbiznis/tenantbilling/internal/plan"
	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/tenantbilling/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/tenantbilling/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/tenantbilling/internal/tenant/service"
	"github.com/smallbiznis/tenantbilling/internal/testkit/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	st      *stack.Stack
	engine  *Engine
	credits creditdomain.Service
}

func newEngineFixture(t *testing.T) engineFixture {
	t.Helper()
	st := stack.New(t)
	credits := creditservice.New(creditservice.Params{
		DB:    st.DB,
		Log:   st.Log,
		GenID: st.Node,
		Repo:  creditrepository.Provide(),
		Clock: st.Clock,
	})
	engine := NewEngine(Params{
		Log:           st.Log,
		Clock:         st.Clock,
		Catalog:       st.Catalog,
		Subscriptions: st.Subscriptions,
		Tenants:       tenantservice.New(tenantservice.Params{DB: st.DB, Repo: tenantrepository.Provide()}),
		Credits:       credits,
	})
	return engineFixture{st: st, engine: engine, credits: credits}
}

func (f engineFixture) spend(t *testing.T, tenantID, feature string, amount int64) {
	t.Helper()
	_, err := f.credits.Append(context.Background(), creditdomain.AppendRequest{TenantID: tenantID, Type: feature, Amount: amount})
	require.NoError(t, err)
}

func teamProduct(f engineFixture, t *testing.T) *catalogdomain.Product {
	return f.st.AddProduct(t, catalogdomain.Product{
		Title:            "Team",
		DisplayOrder:     1,
		PricingModel:     catalogdomain.PricingModelPerSeat,
		Active:           true,
		SupportsQuantity: true,
		FlatPrices:       []catalogdomain.FlatPrice{stack.Flat("usd", catalogdomain.BillingPeriodMonthly, "12", "price_team")},
		Features: []catalogdomain.Feature{
			stack.Feature("users", catalogdomain.LimitMax, 1, true),
			stack.Feature("exports", catalogdomain.LimitMonthly, 3, false),
			stack.Feature("sso", catalogdomain.LimitNotIncluded, 0, false),
			stack.Feature("api", catalogdomain.LimitUnlimited, 0, false),
		},
	})
}

func enterpriseAddon(f engineFixture, t *testing.T) *catalogdomain.Product {
	return f.st.AddProduct(t, catalogdomain.Product{
		Title:        "SSO add-on",
		DisplayOrder: 2,
		PricingModel: catalogdomain.PricingModelFlatRate,
		Active:       true,
		FlatPrices:   []catalogdomain.FlatPrice{stack.Flat("usd", catalogdomain.BillingPeriodMonthly, "50", "price_sso")},
		Features: []catalogdomain.Feature{
			stack.Feature("sso", catalogdomain.LimitIncluded, 0, false),
			stack.Feature("audit_log", catalogdomain.LimitIncluded, 0, false),
		},
	})
}

func subscriptionPeriod(start, end time.Time) subscriptiondomain.LifecycleUpdate {
	return subscriptiondomain.LifecycleUpdate{CurrentPeriodStart: &start, CurrentPeriodEnd: &end}
}

func byName(usages []FeatureUsage) map[string]FeatureUsage {
	out := make(map[string]FeatureUsage, len(usages))
	for _, u := range usages {
		out[u.Name] = u
	}
	return out
}

func TestFeaturesWithoutSubscription(t *testing.T) {
	f := newEngineFixture(t)
	teamProduct(f, t)

	usage, err := f.engine.GetPlanFeatureUsage(context.Background(), "tenant-a", "exports")
	require.NoError(t, err)
	assert.Equal(t, catalogdomain.LimitNotIncluded, usage.Type)
	assert.False(t, usage.Enabled)
	assert.Equal(t, MessageNoSubscription, usage.Message)
}

func TestFeaturesAcrossOwnedProducts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	team := teamProduct(f, t)
	enterpriseAddon(f, t)
	f.st.Own(t, "tenant-a", team, 3, "")

	require.NoError(t, f.st.DB.Create(&[]tenantdomain.TenantUser{
		{ID: "tu1", TenantID: "tenant-a", UserID: "u1", Role: "owner", CreatedAt: f.st.Clock.Now()},
		{ID: "tu2", TenantID: "tenant-a", UserID: "u2", Role: "member", CreatedAt: f.st.Clock.Now()},
	}).Error)

	usages, err := f.engine.GetPlanFeaturesUsage(ctx, "tenant-a")
	require.NoError(t, err)
	got := byName(usages)
	require.Len(t, got, 5)

	users := got["users"]
	assert.Equal(t, catalogdomain.LimitMax, users.Type)
	assert.EqualValues(t, 3, users.Value)
	assert.EqualValues(t, 2, users.Used)
	assert.Equal(t, Remaining{Value: 1}, *users.Remaining)
	assert.True(t, users.Enabled)

	exports := got["exports"]
	assert.EqualValues(t, 3, exports.Value)
	assert.True(t, exports.Enabled)

	api := got["api"]
	assert.True(t, api.Enabled)
	assert.Equal(t, "unlimited", api.Remaining.String())

	sso := got["sso"]
	assert.Equal(t, catalogdomain.LimitNotIncluded, sso.Type)
	assert.False(t, sso.Enabled)
	assert.Equal(t, MessageUpgrade, sso.Message)

	audit := got["audit_log"]
	assert.False(t, audit.Enabled)
	assert.Equal(t, MessageUpgrade, audit.Message)
}

func TestLargeSeatQuantity(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.st.Own(t, "tenant-a", teamProduct(f, t), 1<<50, "")

	usage, err := f.engine.GetPlanFeatureUsage(ctx, "tenant-a", "users")
	require.NoError(t, err)
	assert.EqualValues(t, int64(1)<<50, usage.Value)
	assert.EqualValues(t, int64(1)<<50, usage.Remaining.Value)
	assert.True(t, usage.Enabled)

	usages, err := f.engine.GetPlanFeaturesUsage(ctx, "tenant-a")
	require.NoError(t, err)
	assert.EqualValues(t, int64(1)<<50, byName(usages)["users"].Value)
	assert.EqualValues(t, 3, byName(usages)["exports"].Value)
}

func TestIncludedAddonUpgradesFeature(t *testing.T) {
	f := newEngineFixture(t)
	team := teamProduct(f, t)
	addon := enterpriseAddon(f, t)
	f.st.Own(t, "tenant-a", team, 1, "")
	f.st.Own(t, "tenant-a", addon, 1, "")

	usage, err := f.engine.GetPlanFeatureUsage(context.Background(), "tenant-a", "sso")
	require.NoError(t, err)
	assert.Equal(t, catalogdomain.LimitIncluded, usage.Type)
	assert.True(t, usage.Enabled)
}

func TestRemainingQuotaBoundary(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.st.Own(t, "tenant-a", teamProduct(f, t), 1, "")

	f.spend(t, "tenant-a", "exports", 2)
	usage, err := f.engine.GetPlanFeatureUsage(ctx, "tenant-a", "exports")
	require.NoError(t, err)
	assert.EqualValues(t, 2, usage.Used)
	assert.EqualValues(t, 1, usage.Remaining.Value)
	assert.True(t, usage.Enabled)
	assert.Empty(t, usage.Message)

	f.spend(t, "tenant-a", "exports", 1)
	usage, err = f.engine.GetPlanFeatureUsage(ctx, "tenant-a", "exports")
	require.NoError(t, err)
	assert.EqualValues(t, 3, usage.Used)
	assert.EqualValues(t, 0, usage.Remaining.Value)
	assert.False(t, usage.Enabled)
	assert.Equal(t, MessageLimitReached, usage.Message)
}

func TestUsageCountedInCurrentPeriod(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	instance := f.st.Own(t, "tenant-a", teamProduct(f, t), 1, "sub_1")

	f.spend(t, "tenant-a", "exports", 3)

	// A new billing period starts after the spend.
	f.st.Clock.Advance(time.Hour)
	start := f.st.Clock.Now()
	end := start.AddDate(0, 1, 0)
	require.NoError(t, f.st.Subscriptions.UpdateLifecycle(ctx, "tenant-a", instance.ID, subscriptionPeriod(start, end)))
	f.st.Clock.Advance(time.Minute)
	f.spend(t, "tenant-a", "exports", 1)

	usage, err := f.engine.GetPlanFeatureUsage(ctx, "tenant-a", "exports")
	require.NoError(t, err)
	assert.EqualValues(t, 1, usage.Used)
	assert.True(t, usage.Enabled)
}

func TestCounterFailureFailsClosed(t *testing.T) {
	f := newEngineFixture(t)
	f.st.Own(t, "tenant-a", teamProduct(f, t), 1, "")
	f.engine.WithCounters(NewCounters(CounterFunc(func(context.Context, string, string, Period) (int64, error) {
		return 0, errors.New("ledger offline")
	})))

	usage, err := f.engine.GetPlanFeatureUsage(context.Background(), "tenant-a", "exports")
	require.NoError(t, err)
	assert.False(t, usage.Enabled)
	assert.Equal(t, MessageUnavailable, usage.Message)
}

// TestCheckoutToEntitlement walks a tenant from no subscription through a
// paid checkout to an entitlement answer.
func TestCheckoutToEntitlement(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	st := f.st

	product := st.AddProduct(t, catalogdomain.Product{
		Title:        "Pro",
		PricingModel: catalogdomain.PricingModelFlatRate,
		Active:       true,
		FlatPrices:   []catalogdomain.FlatPrice{stack.Flat("usd", catalogdomain.BillingPeriodMonthly, "20", "price_pro_monthly")},
		Features:     []catalogdomain.Feature{stack.Feature("seats", catalogdomain.LimitMax, 5, false)},
	})

	checkout := checkoutservice.New(checkoutservice.Params{
		DB:               st.DB,
		Log:              st.Log,
		GenID:            st.Node,
		Config:           config.Config{},
		Billing:          st.Billing,
		Clock:            st.Clock,
		Repo:             checkoutrepository.Provide(),
		Catalog:          st.Catalog,
		Resolver:         plan.NewResolver(plan.Params{Log: st.Log, Catalog: st.Catalog, Billing: st.Billing}),
		Processor:        st.Processor,
		Subscriptions:    st.Subscriptions,
		SubscriptionRepo: st.SubscriptionRepo,
	})

	before, err := f.engine.GetPlanFeatureUsage(ctx, "tenant-t", "seats")
	require.NoError(t, err)
	assert.Equal(t, MessageNoSubscription, before.Message)

	st.Customer(t, "tenant-t", "cus_t")
	require.NoError(t, st.DB.Create(&checkoutdomain.CheckoutSessionStatus{
		ID:        "cs_s",
		TenantID:  "tenant-t",
		Pending:   true,
		CreatedAt: st.Clock.Now(),
		UpdatedAt: st.Clock.Now(),
	}).Error)
	st.Processor.PutSession(paymentdomain.CheckoutSession{
		ID:         "cs_s",
		Status:     paymentdomain.SessionStatusComplete,
		CustomerID: "cus_t",
		LineItems:  []paymentdomain.SessionLineItem{{PriceID: "price_pro_monthly", Quantity: 1}},
	})

	result, err := checkout.Reconcile(ctx, "tenant-t", "cs_s")
	require.NoError(t, err)
	require.Len(t, result.Products, 1)
	assert.Equal(t, product.ID, result.Products[0].ProductID)

	usage, err := f.engine.GetPlanFeatureUsage(ctx, "tenant-t", "seats")
	require.NoError(t, err)
	assert.Equal(t, catalogdomain.LimitMax, usage.Type)
	assert.EqualValues(t, 0, usage.Used)
	assert.EqualValues(t, 5, usage.Remaining.Value)
	assert.True(t, usage.Enabled)
}
