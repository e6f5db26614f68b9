package service

import (
	"context"
	"sync"
	"testing"
	"time"

	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	"github.com/smallbiznis/tenantbilling/internal/checkout/domain"
	"github.com/smallbiznis/tenantbilling/internal/checkout/repository"
	"github.com/smallbiznis/tenantbilling/internal/config"
	paymentdomain "github.com/smallbiznis/tenantbilling/internal/payment/domain"
	"github.com/smallbiznis/tenantbilling/internal/plan"
	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	"github.com/smallbiznis/tenantbilling/internal/testkit/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(st *stack.Stack) domain.Service {
	return New(Params{
		DB:      st.DB,
		Log:     st.Log,
		GenID:   st.Node,
		Config:  config.Config{Stripe: config.StripeConfig{SuccessURL: "https://app.test/{TENANT_ID}/ok", CancelURL: "https://app.test/pricing"}},
		Billing: st.Billing,
		Clock:   st.Clock,
		Repo:    repository.Provide(),
		Catalog: st.Catalog,
		Resolver: plan.NewResolver(plan.Params{
			Log:     st.Log,
			Catalog: st.Catalog,
			Billing: st.Billing,
		}),
		Processor:        st.Processor,
		Subscriptions:    st.Subscriptions,
		SubscriptionRepo: st.SubscriptionRepo,
	})
}

func proProduct(st *stack.Stack, t *testing.T) *catalogdomain.Product {
	return st.AddProduct(t, catalogdomain.Product{
		Title:            "Pro",
		PricingModel:     catalogdomain.PricingModelFlatRatePlusUsageBased,
		Active:           true,
		Public:           true,
		SupportsQuantity: true,
		FlatPrices: []catalogdomain.FlatPrice{
			stack.Flat("usd", catalogdomain.BillingPeriodMonthly, "10", "price_pro_monthly"),
		},
		UsagePrices: []catalogdomain.UsageBasedPrice{
			stack.Metered("usd", "api_calls", "0.01", "price_pro_api"),
		},
		Features: []catalogdomain.Feature{
			stack.Feature("seats", catalogdomain.LimitMax, 5, true),
		},
	})
}

func countProducts(t *testing.T, st *stack.Stack) int64 {
	t.Helper()
	var count int64
	require.NoError(t, st.DB.Model(&subscriptiondomain.TenantSubscriptionProduct{}).Count(&count).Error)
	return count
}

// checkoutAndPay runs the purchase flow through to a paid session.
func checkoutAndPay(t *testing.T, st *stack.Stack, svc domain.Service, tenantID string, quantity int64) string {
	t.Helper()
	res, err := svc.CreateCheckout(context.Background(), tenantID, plan.PurchaseIntent{
		ProductID:     proProduct(st, t).ID,
		BillingPeriod: "monthly",
		Currency:      "usd",
		Quantity:      quantity,
	}, domain.CheckoutOptions{Email: "owner@example.com"})
	require.NoError(t, err)

	start := st.Clock.Now()
	end := start.AddDate(0, 1, 0)
	st.Processor.PutSubscription(paymentdomain.Subscription{
		ID:                 "sub_1",
		Status:             "active",
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		Items: []paymentdomain.SubscriptionItem{
			{ID: "si_flat", PriceID: "price_pro_monthly", Quantity: quantity},
			{ID: "si_api", PriceID: "price_pro_api"},
		},
	})
	st.Processor.CompleteSession(res.SessionID, "sub_1")
	return res.SessionID
}

func TestCreateCheckoutRegistersPendingSession(t *testing.T) {
	st := stack.New(t)
	svc := newService(st)
	ctx := context.Background()
	product := proProduct(st, t)

	res, err := svc.CreateCheckout(ctx, "tenant-a", plan.PurchaseIntent{
		ProductID: product.ID,
		Quantity:  2,
		Coupon:    "LAUNCH",
		Referral:  "friend",
	}, domain.CheckoutOptions{Email: "owner@example.com", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "subscription", res.Mode)
	assert.NotEmpty(t, res.URL)

	require.Len(t, st.Processor.CreatedSessions, 1)
	input := st.Processor.CreatedSessions[0]
	assert.Equal(t, "cus_1", input.CustomerID)
	assert.Equal(t, "https://app.test/tenant-a/ok", input.SuccessURL)
	assert.Equal(t, "LAUNCH", input.Coupon)
	assert.Equal(t, "friend", input.Metadata["referral"])
	require.Len(t, input.LineItems, 2)
	assert.Equal(t, "price_pro_monthly", input.LineItems[0].PriceID)
	assert.EqualValues(t, 2, *input.LineItems[0].Quantity)
	assert.Nil(t, input.LineItems[1].Quantity)

	status, err := repository.Provide().FindStatus(ctx, st.DB, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Pending)
	assert.Equal(t, "tenant-a", status.TenantID)
	require.NotNil(t, status.FromUserID)
	assert.Equal(t, "user-1", *status.FromUserID)

	// A second checkout reuses the external customer.
	_, err = svc.CreateCheckout(ctx, "tenant-a", plan.PurchaseIntent{ProductID: product.ID}, domain.CheckoutOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cus_1", st.Processor.CreatedSessions[1].CustomerID)
}

func TestReconcileProvisionsOnce(t *testing.T) {
	st := stack.New(t)
	svc := newService(st)
	ctx := context.Background()

	sessionID := checkoutAndPay(t, st, svc, "tenant-a", 3)

	result, err := svc.Reconcile(ctx, "tenant-a", sessionID)
	require.NoError(t, err)
	require.Len(t, result.Products, 1)
	instance := result.Products[0]
	assert.EqualValues(t, 3, instance.Quantity)
	require.NotNil(t, instance.ExternalSubscriptionID)
	assert.Equal(t, "sub_1", *instance.ExternalSubscriptionID)
	require.NotNil(t, instance.CurrentPeriodEnd)
	require.Len(t, instance.Prices, 2)
	require.NotNil(t, instance.Prices[1].ExternalSubscriptionItemID)
	assert.Equal(t, "si_api", *instance.Prices[1].ExternalSubscriptionItemID)

	_, err = svc.Reconcile(ctx, "tenant-a", sessionID)
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	assert.EqualValues(t, 1, countProducts(t, st))

	var priceRows int64
	require.NoError(t, st.DB.Model(&subscriptiondomain.TenantSubscriptionProductPrice{}).Count(&priceRows).Error)
	assert.EqualValues(t, 2, priceRows)
}

func TestReconcileConcurrentCallsProvisionOnce(t *testing.T) {
	st := stack.New(t)
	svc := newService(st)
	sessionID := checkoutAndPay(t, st, svc, "tenant-a", 1)

	const callers = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reconcile(context.Background(), "tenant-a", sessionID)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.EqualValues(t, 1, countProducts(t, st))
}

func TestReconcileIncompleteSessionIsNoop(t *testing.T) {
	st := stack.New(t)
	svc := newService(st)
	ctx := context.Background()

	res, err := svc.CreateCheckout(ctx, "tenant-a", plan.PurchaseIntent{ProductID: proProduct(st, t).ID}, domain.CheckoutOptions{})
	require.NoError(t, err)

	result, err := svc.Reconcile(ctx, "tenant-a", res.SessionID)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Zero(t, countProducts(t, st))
}

func TestReconcileFailures(t *testing.T) {
	t.Run("unknown price", func(t *testing.T) {
		st := stack.New(t)
		svc := newService(st)
		st.Customer(t, "tenant-a", "cus_a")
		st.Processor.PutSession(paymentdomain.CheckoutSession{
			ID:         "cs_x",
			Status:     paymentdomain.SessionStatusComplete,
			CustomerID: "cus_a",
			LineItems:  []paymentdomain.SessionLineItem{{PriceID: "price_nobody_knows", Quantity: 1}},
		})
		_, err := svc.Reconcile(context.Background(), "tenant-a", "cs_x")
		assert.ErrorIs(t, err, domain.ErrUnknownPrice)
		assert.Zero(t, countProducts(t, st))
	})

	t.Run("session not tracked", func(t *testing.T) {
		st := stack.New(t)
		svc := newService(st)
		proProduct(st, t)
		st.Customer(t, "tenant-a", "cus_a")
		st.Processor.PutSession(paymentdomain.CheckoutSession{
			ID:         "cs_untracked",
			Status:     paymentdomain.SessionStatusComplete,
			CustomerID: "cus_a",
			LineItems:  []paymentdomain.SessionLineItem{{PriceID: "price_pro_monthly", Quantity: 1}},
		})
		_, err := svc.Reconcile(context.Background(), "tenant-a", "cs_untracked")
		assert.ErrorIs(t, err, domain.ErrSessionNotTracked)
	})

	t.Run("customer mismatch", func(t *testing.T) {
		st := stack.New(t)
		svc := newService(st)
		sessionID := checkoutAndPay(t, st, svc, "tenant-a", 1)
		st.Customer(t, "tenant-b", "cus_b")

		_, err := svc.Reconcile(context.Background(), "tenant-b", sessionID)
		assert.ErrorIs(t, err, domain.ErrCustomerMismatch)

		// The rightful tenant can still reconcile afterwards.
		_, err = svc.Reconcile(context.Background(), "tenant-a", sessionID)
		require.NoError(t, err)
	})
}

func TestReconcileInvalidatesSubscriptionCache(t *testing.T) {
	st := stack.New(t)
	svc := newService(st)
	ctx := context.Background()
	sessionID := checkoutAndPay(t, st, svc, "tenant-a", 1)

	before, err := st.Subscriptions.GetActive(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, before.Products)

	_, err = svc.Reconcile(ctx, "tenant-a", sessionID)
	require.NoError(t, err)

	after, err := st.Subscriptions.GetActive(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, after.Products, 1)
}

func TestAutoSubscribePrefersTrial(t *testing.T) {
	st := stack.New(t)
	svc := newService(st)
	ctx := context.Background()

	st.AddProduct(t, catalogdomain.Product{
		Title:        "Free",
		DisplayOrder: 1,
		PricingModel: catalogdomain.PricingModelFlatRate,
		Active:       true,
		FlatPrices:   []catalogdomain.FlatPrice{stack.Flat("usd", catalogdomain.BillingPeriodMonthly, "0", "price_free")},
	})
	trialFlat := stack.Flat("usd", catalogdomain.BillingPeriodMonthly, "29", "price_team")
	trialFlat.TrialDays = 14
	team := st.AddProduct(t, catalogdomain.Product{
		Title:        "Team",
		DisplayOrder: 2,
		PricingModel: catalogdomain.PricingModelFlatRate,
		Active:       true,
		FlatPrices:   []catalogdomain.FlatPrice{trialFlat},
	})

	// Warm the cache so the invalidation is observable.
	_, err := st.Subscriptions.EnsureTenantSubscription(ctx, "tenant-a")
	require.NoError(t, err)
	_, err = st.Subscriptions.GetActive(ctx, "tenant-a")
	require.NoError(t, err)

	result, err := svc.AutoSubscribe(ctx, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.AutoSubscribeTrial, result.Branch)
	assert.Equal(t, team.ID, result.Product.ProductID)
	assert.EqualValues(t, 1, result.Product.Quantity)
	require.NotNil(t, result.Product.EndsAt)
	assert.True(t, result.Product.EndsAt.Equal(st.Clock.Now().Add(14*24*time.Hour)))

	ownership, err := st.Subscriptions.GetActive(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, ownership.Products, 1)

	// Already provisioned tenants are left alone.
	again, err := svc.AutoSubscribe(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.EqualValues(t, 1, countProducts(t, st))

	// The trial lapses and the tenant no longer owns anything active.
	st.Clock.Advance(15 * 24 * time.Hour)
	ownership, err = st.Subscriptions.GetActive(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, ownership.Products)
}

func trialProduct(st *stack.Stack, t *testing.T) *catalogdomain.Product {
	trialFlat := stack.Flat("usd", catalogdomain.BillingPeriodMonthly, "29", "price_team")
	trialFlat.TrialDays = 14
	return st.AddProduct(t, catalogdomain.Product{
		Title:        "Team",
		PricingModel: catalogdomain.PricingModelFlatRate,
		Active:       true,
		FlatPrices:   []catalogdomain.FlatPrice{trialFlat},
	})
}

func TestAutoSubscribeOnlyOnceAfterTrialLapses(t *testing.T) {
	st := stack.New(t)
	svc := newService(st)
	ctx := context.Background()
	trialProduct(st, t)

	result, err := svc.AutoSubscribe(ctx, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, result)

	for i := 0; i < 3; i++ {
		st.Clock.Advance(15 * 24 * time.Hour)

		ownership, err := st.Subscriptions.GetActive(ctx, "tenant-a")
		require.NoError(t, err)
		assert.Empty(t, ownership.Products)

		again, err := svc.AutoSubscribe(ctx, "tenant-a")
		require.NoError(t, err)
		assert.Nil(t, again)
	}
	assert.EqualValues(t, 1, countProducts(t, st))

	owner, err := st.SubscriptionRepo.FindByTenantID(ctx, st.DB, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, owner.AutoSubscribedAt)
}

func TestAutoSubscribeSkipsTenantWithLapsedPurchase(t *testing.T) {
	st := stack.New(t)
	svc := newService(st)
	ctx := context.Background()
	trialProduct(st, t)

	instance := st.Own(t, "tenant-a", proProduct(st, t), 1, "sub_old")
	ended := st.Clock.Now().Add(-time.Hour)
	require.NoError(t, st.DB.Model(&subscriptiondomain.TenantSubscriptionProduct{}).
		Where("id = ?", instance.ID).Update("ends_at", ended).Error)

	result, err := svc.AutoSubscribe(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.EqualValues(t, 1, countProducts(t, st))
}

func TestAutoSubscribeConcurrentCallsProvisionOnce(t *testing.T) {
	st := stack.New(t)
	svc := newService(st)
	trialProduct(st, t)

	_, err := st.Subscriptions.EnsureTenantSubscription(context.Background(), "tenant-a")
	require.NoError(t, err)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.AutoSubscribe(context.Background(), "tenant-a")
			if err == nil && result != nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.EqualValues(t, 1, countProducts(t, st))
}

func TestAutoSubscribeFreeBranch(t *testing.T) {
	st := stack.New(t)
	svc := newService(st)
	ctx := context.Background()

	free := st.AddProduct(t, catalogdomain.Product{
		Title:        "Starter",
		PricingModel: catalogdomain.PricingModelFlatRate,
		Active:       true,
		FlatPrices:   []catalogdomain.FlatPrice{stack.Flat("usd", catalogdomain.BillingPeriodMonthly, "0", "price_starter")},
	})
	proProduct(st, t)

	result, err := svc.AutoSubscribe(ctx, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.AutoSubscribeFree, result.Branch)
	assert.Equal(t, free.ID, result.Product.ProductID)
	assert.Nil(t, result.Product.EndsAt)
	require.Len(t, result.Product.Prices, 1)
	assert.Equal(t, free.FlatPrices[0].ID, result.Product.Prices[0].PriceID())
}

func TestAutoSubscribeNothingEligible(t *testing.T) {
	st := stack.New(t)
	svc := newService(st)
	proProduct(st, t)

	result, err := svc.AutoSubscribe(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestAutoSubscribeDisabled(t *testing.T) {
	st := stack.New(t)
	cfg := config.DefaultBillingConfig()
	cfg.AutoSubscribe = false
	st.Billing = config.NewStaticBillingConfigHolder(cfg)
	svc := newService(st)

	result, err := svc.AutoSubscribe(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, result)
}
