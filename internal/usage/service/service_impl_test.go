package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	paymentdomain "github.com/smallbiznis/tenantbilling/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	"github.com/smallbiznis/tenantbilling/internal/testkit/stack"
	"github.com/smallbiznis/tenantbilling/internal/usage/domain"
	"github.com/smallbiznis/tenantbilling/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUsageService(st *stack.Stack) domain.Service {
	return New(Params{
		DB:            st.DB,
		Log:           st.Log,
		GenID:         st.Node,
		Clock:         st.Clock,
		Billing:       st.Billing,
		Repo:          repository.Provide(),
		Catalog:       st.Catalog,
		Subscriptions: st.Subscriptions,
		Processor:     st.Processor,
	})
}

func meteredProduct(t *testing.T, st *stack.Stack, title string, prices ...catalogdomain.UsageBasedPrice) *catalogdomain.Product {
	t.Helper()
	return st.AddProduct(t, catalogdomain.Product{
		Title:        title,
		PricingModel: catalogdomain.PricingModelUsageBased,
		Active:       true,
		UsagePrices:  prices,
	})
}

func TestReportUsageMatchesUnit(t *testing.T) {
	st := stack.New(t)
	svc := newUsageService(st)
	ctx := context.Background()

	product := meteredProduct(t, st, "API",
		stack.Metered("usd", "api_calls", "0.01", "price_api"),
		stack.Metered("usd", "storage_gb", "0.10", "price_storage"),
	)
	st.Own(t, "tenant-a", product, 1, "sub_1")
	st.Processor.PutSubscription(paymentdomain.Subscription{
		ID:     "sub_1",
		Status: "active",
		Items: []paymentdomain.SubscriptionItem{
			{ID: "si_api", PriceID: "price_api"},
			{ID: "si_storage", PriceID: "price_storage"},
		},
	})

	result, err := svc.ReportUsage(ctx, "tenant-a", "api_calls")
	require.NoError(t, err)
	assert.Equal(t, "api_calls", result.UnitName)
	assert.Zero(t, result.Failed)
	require.Len(t, result.Reported, 1)

	record := result.Reported[0]
	assert.Equal(t, "si_api", record.ExternalSubscriptionItemID)
	assert.EqualValues(t, 1, record.Quantity)
	assert.NotEmpty(t, record.IdempotencyKey)

	require.Len(t, st.Processor.UsageReports, 1)
	report := st.Processor.UsageReports[0]
	assert.Equal(t, "si_api", report.SubscriptionItemID)
	assert.EqualValues(t, 1, report.Quantity)
	assert.Equal(t, record.IdempotencyKey, report.IdempotencyKey)

	stored, err := repository.Provide().ListByPriceRow(ctx, st.DB, record.TenantSubscriptionProductPriceID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, record.ID, stored[0].ID)
}

func TestReportUsagePartialFailure(t *testing.T) {
	st := stack.New(t)
	svc := newUsageService(st)
	ctx := context.Background()

	first := meteredProduct(t, st, "API Basic", stack.Metered("usd", "api_calls", "0.01", "price_basic"))
	second := meteredProduct(t, st, "API Burst", stack.Metered("usd", "api_calls", "0.02", "price_burst"))
	st.Own(t, "tenant-a", first, 1, "sub_1")
	failing := st.Own(t, "tenant-a", second, 1, "sub_2")
	st.Processor.PutSubscription(paymentdomain.Subscription{
		ID:    "sub_1",
		Items: []paymentdomain.SubscriptionItem{{ID: "si_basic", PriceID: "price_basic"}},
	})
	st.Processor.PutSubscription(paymentdomain.Subscription{
		ID:    "sub_2",
		Items: []paymentdomain.SubscriptionItem{{ID: "si_burst", PriceID: "price_burst"}},
	})
	st.Processor.ReportErrs["si_burst"] = errors.New("rate limited")

	result, err := svc.ReportUsage(ctx, "tenant-a", "api_calls")
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Reported, 1)
	assert.Equal(t, "si_basic", result.Reported[0].ExternalSubscriptionItemID)

	var reportErr *domain.ReportError
	require.ErrorAs(t, err, &reportErr)
	assert.Equal(t, failing.ID, reportErr.ProductInstanceID)
	assert.Equal(t, failing.Prices[0].ID, reportErr.PriceRowID)

	var count int64
	require.NoError(t, st.DB.Model(&domain.UsageRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestReportUsagePrefersStoredItem(t *testing.T) {
	st := stack.New(t)
	svc := newUsageService(st)
	ctx := context.Background()

	product := meteredProduct(t, st, "API", stack.Metered("usd", "api_calls", "0.01", "price_api"))
	instance := st.Own(t, "tenant-a", product, 1, "sub_1")
	require.NoError(t, st.DB.Model(&subscriptiondomain.TenantSubscriptionProductPrice{}).
		Where("id = ?", instance.Prices[0].ID).
		Update("external_subscription_item_id", "si_stored").Error)
	require.NoError(t, st.Subscriptions.Invalidate(ctx, "tenant-a"))

	result, err := svc.ReportUsage(ctx, "tenant-a", "api_calls")
	require.NoError(t, err)
	require.Len(t, result.Reported, 1)
	assert.Equal(t, "si_stored", result.Reported[0].ExternalSubscriptionItemID)
	assert.Zero(t, st.Processor.SubscriptionGets)
}

func storeItem(t *testing.T, st *stack.Stack, priceRowID, itemID string) {
	t.Helper()
	require.NoError(t, st.DB.Model(&subscriptiondomain.TenantSubscriptionProductPrice{}).
		Where("id = ?", priceRowID).
		Update("external_subscription_item_id", itemID).Error)
	require.NoError(t, st.Subscriptions.Invalidate(context.Background(), "tenant-a"))
}

func TestReportUsageRetriesReplacedItem(t *testing.T) {
	st := stack.New(t)
	svc := newUsageService(st)
	ctx := context.Background()

	product := meteredProduct(t, st, "API", stack.Metered("usd", "api_calls", "0.01", "price_api"))
	instance := st.Own(t, "tenant-a", product, 1, "sub_1")
	storeItem(t, st, instance.Prices[0].ID, "si_old")
	st.Processor.ReportErrs["si_old"] = fmt.Errorf("%w: %w: no such subscription item", paymentdomain.ErrProcessor, paymentdomain.ErrUnknownSubscriptionItem)
	st.Processor.PutSubscription(paymentdomain.Subscription{
		ID:    "sub_1",
		Items: []paymentdomain.SubscriptionItem{{ID: "si_new", PriceID: "price_api"}},
	})

	result, err := svc.ReportUsage(ctx, "tenant-a", "api_calls")
	require.NoError(t, err)
	require.Len(t, result.Reported, 1)
	assert.Equal(t, "si_new", result.Reported[0].ExternalSubscriptionItemID)
	assert.Equal(t, 1, st.Processor.SubscriptionGets)
	require.Len(t, st.Processor.UsageReports, 1)
	assert.Equal(t, "si_new", st.Processor.UsageReports[0].SubscriptionItemID)

	var row subscriptiondomain.TenantSubscriptionProductPrice
	require.NoError(t, st.DB.Where("id = ?", instance.Prices[0].ID).First(&row).Error)
	require.NotNil(t, row.ExternalSubscriptionItemID)
	assert.Equal(t, "si_new", *row.ExternalSubscriptionItemID)

	// The next report goes straight to the replacement.
	_, err = svc.ReportUsage(ctx, "tenant-a", "api_calls")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Processor.SubscriptionGets)
	assert.Len(t, st.Processor.UsageReports, 2)
}

func TestReportUsageReplacedItemStillListed(t *testing.T) {
	st := stack.New(t)
	svc := newUsageService(st)
	ctx := context.Background()

	product := meteredProduct(t, st, "API", stack.Metered("usd", "api_calls", "0.01", "price_api"))
	instance := st.Own(t, "tenant-a", product, 1, "sub_1")
	storeItem(t, st, instance.Prices[0].ID, "si_old")
	st.Processor.ReportErrs["si_old"] = fmt.Errorf("%w: %w", paymentdomain.ErrProcessor, paymentdomain.ErrUnknownSubscriptionItem)
	st.Processor.PutSubscription(paymentdomain.Subscription{
		ID:    "sub_1",
		Items: []paymentdomain.SubscriptionItem{{ID: "si_old", PriceID: "price_api"}},
	})

	result, err := svc.ReportUsage(ctx, "tenant-a", "api_calls")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubscriptionItemGone)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, st.Processor.SubscriptionGets)
	assert.Empty(t, st.Processor.UsageReports)
}

func TestReportUsageOtherProcessorErrorsDoNotRetry(t *testing.T) {
	st := stack.New(t)
	svc := newUsageService(st)
	ctx := context.Background()

	product := meteredProduct(t, st, "API", stack.Metered("usd", "api_calls", "0.01", "price_api"))
	instance := st.Own(t, "tenant-a", product, 1, "sub_1")
	storeItem(t, st, instance.Prices[0].ID, "si_old")
	st.Processor.ReportErrs["si_old"] = fmt.Errorf("%w: rate limited", paymentdomain.ErrProcessor)

	result, err := svc.ReportUsage(ctx, "tenant-a", "api_calls")
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrProcessor)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, st.Processor.SubscriptionGets)
}

func TestReportUsageItemMissingFromSubscription(t *testing.T) {
	st := stack.New(t)
	svc := newUsageService(st)

	product := meteredProduct(t, st, "API", stack.Metered("usd", "api_calls", "0.01", "price_api"))
	st.Own(t, "tenant-a", product, 1, "sub_1")
	st.Processor.PutSubscription(paymentdomain.Subscription{ID: "sub_1"})

	result, err := svc.ReportUsage(context.Background(), "tenant-a", "api_calls")
	assert.ErrorIs(t, err, domain.ErrSubscriptionItemGone)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, result.Reported)
	assert.Empty(t, st.Processor.UsageReports)
}

func TestReportUsageSkipsUnbilledInstances(t *testing.T) {
	st := stack.New(t)
	svc := newUsageService(st)

	product := meteredProduct(t, st, "API", stack.Metered("usd", "api_calls", "0.01", "price_api"))
	st.Own(t, "tenant-a", product, 1, "")

	result, err := svc.ReportUsage(context.Background(), "tenant-a", "api_calls")
	require.NoError(t, err)
	assert.Empty(t, result.Reported)
	assert.Zero(t, result.Failed)

	result, err = svc.ReportUsage(context.Background(), "tenant-nobody", "api_calls")
	require.NoError(t, err)
	assert.Empty(t, result.Reported)
}

func TestReportUsageValidation(t *testing.T) {
	svc := newUsageService(stack.New(t))

	_, err := svc.ReportUsage(context.Background(), " ", "api_calls")
	assert.ErrorIs(t, err, domain.ErrInvalidTenant)

	_, err = svc.ReportUsage(context.Background(), "tenant-a", "")
	assert.ErrorIs(t, err, domain.ErrInvalidUnit)
}
