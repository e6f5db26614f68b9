package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/tenantbilling/internal/checkout/domain"
	"github.com/smallbiznis/tenantbilling/internal/config"
	creditdomain "github.com/smallbiznis/tenantbilling/internal/credit/domain"
	"github.com/smallbiznis/tenantbilling/internal/entitlement"
	"github.com/smallbiznis/tenantbilling/internal/lifecycle"
	"github.com/smallbiznis/tenantbilling/internal/observability"
	paymentdomain "github.com/smallbiznis/tenantbilling/internal/payment/domain"
	"github.com/smallbiznis/tenantbilling/internal/plan"
	"github.com/smallbiznis/tenantbilling/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tenantbilling/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type mockCheckout struct {
	mock.Mock
}

func (m *mockCheckout) CreateCheckout(ctx context.Context, tenantID string, intent plan.PurchaseIntent, opts checkoutdomain.CheckoutOptions) (*checkoutdomain.CheckoutResult, error) {
	args := m.Called(ctx, tenantID, intent, opts)
	result, _ := args.Get(0).(*checkoutdomain.CheckoutResult)
	return result, args.Error(1)
}

func (m *mockCheckout) Reconcile(ctx context.Context, tenantID, sessionID string) (*checkoutdomain.ReconcileResult, error) {
	args := m.Called(ctx, tenantID, sessionID)
	result, _ := args.Get(0).(*checkoutdomain.ReconcileResult)
	return result, args.Error(1)
}

func (m *mockCheckout) AutoSubscribe(ctx context.Context, tenantID string) (*checkoutdomain.AutoSubscribeResult, error) {
	args := m.Called(ctx, tenantID)
	result, _ := args.Get(0).(*checkoutdomain.AutoSubscribeResult)
	return result, args.Error(1)
}

type mockLifecycle struct {
	mock.Mock
}

func (m *mockLifecycle) HandleEvent(ctx context.Context, eventType, externalSubscriptionID string) ([]subscriptiondomain.TenantSubscriptionProduct, error) {
	args := m.Called(ctx, eventType, externalSubscriptionID)
	products, _ := args.Get(0).([]subscriptiondomain.TenantSubscriptionProduct)
	return products, args.Error(1)
}

type fakeVerifier struct {
	event *paymentdomain.Event
}

func (f fakeVerifier) Verify(payload []byte, signatureHeader string) (*paymentdomain.Event, error) {
	if signatureHeader != "valid" {
		return nil, fmt.Errorf("%w: no signatures found matching the expected signature", paymentdomain.ErrInvalidSignature)
	}
	return f.event, nil
}

type fakeEntitlements struct {
	usage entitlement.FeatureUsage
}

func (f fakeEntitlements) GetPlanFeaturesUsage(ctx context.Context, tenantID string) ([]entitlement.FeatureUsage, error) {
	return []entitlement.FeatureUsage{f.usage}, nil
}

func (f fakeEntitlements) GetPlanFeatureUsage(ctx context.Context, tenantID, featureName string) (*entitlement.FeatureUsage, error) {
	usage := f.usage
	usage.Name = featureName
	return &usage, nil
}

type fakeUsage struct {
	result *usagedomain.ReportResult
	err    error
}

func (f fakeUsage) ReportUsage(ctx context.Context, tenantID, unitName string) (*usagedomain.ReportResult, error) {
	return f.result, f.err
}

type fakeCredits struct {
	appended []creditdomain.AppendRequest
}

func (f *fakeCredits) Append(ctx context.Context, req creditdomain.AppendRequest) (*creditdomain.Credit, error) {
	if req.Amount == 0 {
		return nil, creditdomain.ErrInvalidAmount
	}
	f.appended = append(f.appended, req)
	return &creditdomain.Credit{ID: "credit-1", TenantID: req.TenantID, Type: req.Type, Amount: req.Amount}, nil
}

func (f *fakeCredits) Sum(ctx context.Context, tenantID, creditType string, from, to time.Time) (int64, error) {
	return 0, nil
}

type fakeCatalog struct {
	catalogdomain.Service
	products []catalogdomain.Product
}

func (f fakeCatalog) ListProducts(ctx context.Context, filter catalogdomain.ListFilter) ([]catalogdomain.Product, error) {
	return f.products, nil
}

func (f fakeCatalog) GetProduct(ctx context.Context, id string) (*catalogdomain.Product, error) {
	for i := range f.products {
		if f.products[i].ID == id {
			return &f.products[i], nil
		}
	}
	return nil, catalogdomain.ErrNotFound
}

type testServer struct {
	*Server
	checkout  *mockCheckout
	lifecycle *mockLifecycle
	credits   *fakeCredits
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		checkout:  new(mockCheckout),
		lifecycle: new(mockLifecycle),
		credits:   &fakeCredits{},
	}
	ts.Server = &Server{
		engine:    NewEngine(observability.Config{}, nil),
		billing:   config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		log:       zap.NewNop(),
		checkout:  ts.checkout,
		lifecycle: ts.lifecycle,
		credits:   ts.credits,
		verifier:  fakeVerifier{event: &paymentdomain.Event{ID: "evt_1", Type: "invoice.paid"}},
		catalog:   fakeCatalog{},
		usage:     fakeUsage{result: &usagedomain.ReportResult{}},
	}
	ts.registerRoutes()
	t.Cleanup(func() {
		ts.checkout.AssertExpectations(t)
		ts.lifecycle.AssertExpectations(t)
	})
	return ts
}

func (ts *testServer) do(method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/webhooks/subscriptions", []byte(`{}`), map[string]string{signatureHeader: "forged"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Webhook Error")
	assert.Contains(t, rec.Body.String(), "invalid_signature")
}

func TestWebhookAcknowledgesUnrelatedEvents(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/webhooks/subscriptions", []byte(`{}`), map[string]string{signatureHeader: "valid"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, "invoice.paid", body["event"])
	ts.lifecycle.AssertNotCalled(t, "HandleEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookRoutesLifecycleEvents(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier = fakeVerifier{event: &paymentdomain.Event{
		ID:             "evt_2",
		Type:           paymentdomain.EventSubscriptionDeleted,
		SubscriptionID: "sub_1",
	}}
	ts.lifecycle.On("HandleEvent", mock.Anything, paymentdomain.EventSubscriptionDeleted, "sub_1").
		Return([]subscriptiondomain.TenantSubscriptionProduct{{ID: "instance-1"}}, nil).Once()

	rec := ts.do(http.MethodPost, "/webhooks/subscriptions", []byte(`{}`), map[string]string{signatureHeader: "valid"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, paymentdomain.EventSubscriptionDeleted, decode(t, rec)["event"])
}

func TestWebhookUnmappedSubscriptionIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier = fakeVerifier{event: &paymentdomain.Event{
		ID:             "evt_3",
		Type:           paymentdomain.EventSubscriptionUpdated,
		SubscriptionID: "sub_foreign",
	}}
	ts.lifecycle.On("HandleEvent", mock.Anything, paymentdomain.EventSubscriptionUpdated, "sub_foreign").
		Return(nil, lifecycle.ErrSubscriptionNotMapped).Once()

	rec := ts.do(http.MethodPost, "/webhooks/subscriptions", []byte(`{}`), map[string]string{signatureHeader: "valid"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCheckout(t *testing.T) {
	ts := newTestServer(t)
	intent := plan.PurchaseIntent{ProductID: "prod-1", BillingPeriod: "MONTHLY", Currency: "usd", Quantity: 2}
	ts.checkout.On("CreateCheckout", mock.Anything, "tenant-a", intent, checkoutdomain.CheckoutOptions{Email: "owner@example.com"}).
		Return(&checkoutdomain.CheckoutResult{SessionID: "cs_1", URL: "https://pay.example/cs_1", Mode: "subscription"}, nil).Once()

	rec := ts.do(http.MethodPost, "/api/tenants/tenant-a/checkout",
		[]byte(`{"product_id":"prod-1","billing_period":"MONTHLY","currency":"usd","quantity":2,"email":" owner@example.com "}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "https://pay.example/cs_1", data["url"])
}

func TestCreateCheckoutValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.checkout.On("CreateCheckout", mock.Anything, "tenant-a", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: currency \"xx\"", plan.ErrInvalidCurrency)).Once()

	rec := ts.do(http.MethodPost, "/api/tenants/tenant-a/checkout", []byte(`{"product_id":"prod-1","currency":"xx"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"invalid_currency"`)

	rec = ts.do(http.MethodPost, "/api/tenants/tenant-a/checkout", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutSuccessOutcomes(t *testing.T) {
	ts := newTestServer(t)
	ts.checkout.On("Reconcile", mock.Anything, "tenant-a", "cs_done").
		Return(&checkoutdomain.ReconcileResult{SessionID: "cs_done"}, nil).Once()
	ts.checkout.On("Reconcile", mock.Anything, "tenant-a", "cs_again").
		Return(nil, checkoutdomain.ErrAlreadyProcessed).Once()
	ts.checkout.On("Reconcile", mock.Anything, "tenant-a", "cs_open").
		Return(nil, nil).Once()
	ts.checkout.On("Reconcile", mock.Anything, "tenant-a", "cs_other").
		Return(nil, checkoutdomain.ErrCustomerMismatch).Once()
	ts.checkout.On("Reconcile", mock.Anything, "tenant-a", "cs_down").
		Return(nil, fmt.Errorf("get session: %w", paymentdomain.ErrProcessor)).Once()

	cases := []struct {
		session string
		status  int
		outcome string
	}{
		{session: "cs_done", status: http.StatusOK, outcome: "provisioned"},
		{session: "cs_again", status: http.StatusOK, outcome: "already_processed"},
		{session: "cs_open", status: http.StatusOK, outcome: "pending"},
		{session: "cs_other", status: http.StatusUnprocessableEntity},
		{session: "cs_down", status: http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.session, func(t *testing.T) {
			rec := ts.do(http.MethodGet, "/api/tenants/tenant-a/checkout/success?session_id="+tc.session, nil, nil)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.outcome != "" {
				assert.Equal(t, tc.outcome, decode(t, rec)["status"])
			}
		})
	}

	rec := ts.do(http.MethodGet, "/api/tenants/tenant-a/checkout/success", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAutoSubscribe(t *testing.T) {
	ts := newTestServer(t)
	ts.checkout.On("AutoSubscribe", mock.Anything, "tenant-new").
		Return(&checkoutdomain.AutoSubscribeResult{Branch: checkoutdomain.AutoSubscribeTrial}, nil).Once()
	ts.checkout.On("AutoSubscribe", mock.Anything, "tenant-old").
		Return(nil, nil).Once()

	rec := ts.do(http.MethodPost, "/api/tenants/tenant-new/subscription/auto", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trial", decode(t, rec)["data"].(map[string]any)["branch"])

	rec = ts.do(http.MethodPost, "/api/tenants/tenant-old/subscription/auto", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "skipped", decode(t, rec)["status"])
}

func TestFeatureUsage(t *testing.T) {
	ts := newTestServer(t)
	ts.entitlements = fakeEntitlements{usage: entitlement.FeatureUsage{
		Type:      catalogdomain.LimitUnlimited,
		Enabled:   true,
		Remaining: &entitlement.Remaining{Unlimited: true},
	}}

	rec := ts.do(http.MethodGet, "/api/tenants/tenant-a/features/api_calls", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "api_calls", data["name"])
	assert.Equal(t, "unlimited", data["remaining"])

	rec = ts.do(http.MethodGet, "/api/tenants/tenant-a/features", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 1)
}

func TestReportUsagePartialFailure(t *testing.T) {
	ts := newTestServer(t)
	failure := &usagedomain.ReportError{PriceRowID: "row-2", Err: errors.New("rate limited")}
	ts.usage = fakeUsage{
		result: &usagedomain.ReportResult{UnitName: "api_calls", Reported: []usagedomain.UsageRecord{{ID: "rec-1"}}, Failed: 1},
		err:    multierr.Append(nil, failure),
	}

	rec := ts.do(http.MethodPost, "/api/tenants/tenant-a/usage/api_calls", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["errors"], 1)
	assert.EqualValues(t, 1, body["data"].(map[string]any)["failed"])
}

func newTestLimiter(t *testing.T, burst int) *ratelimit.UsageLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewUsageLimiter(client, config.RateLimitConfig{
		TenantRate:     0.001,
		TenantBurst:    burst,
		UnitLockTTLSec: 10,
	})
	require.NoError(t, err)
	return limiter
}

func TestReportUsageRateLimitedPerTenant(t *testing.T) {
	ts := newTestServer(t)
	ts.usageLimiter = newTestLimiter(t, 1)
	ts.usage = fakeUsage{result: &usagedomain.ReportResult{UnitName: "api_calls"}}

	rec := ts.do(http.MethodPost, "/api/tenants/tenant-a/usage/api_calls", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/api/tenants/tenant-a/usage/api_calls", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "tenant-rate", rec.Header().Get("X-Rate-Limited-Reason"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode(t, rec)["error"].(map[string]any)["type"])

	rec = ts.do(http.MethodPost, "/api/tenants/tenant-b/usage/api_calls", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReportUsageRejectsUnitInFlight(t *testing.T) {
	ts := newTestServer(t)
	ts.usageLimiter = newTestLimiter(t, 10)
	ts.usage = fakeUsage{result: &usagedomain.ReportResult{UnitName: "api_calls"}}

	token, ok, err := ts.usageLimiter.TryLockUnit(context.Background(), "tenant-a", "api_calls")
	require.NoError(t, err)
	require.True(t, ok)

	rec := ts.do(http.MethodPost, "/api/tenants/tenant-a/usage/api_calls", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "unit-in-flight", rec.Header().Get("X-Rate-Limited-Reason"))

	require.NoError(t, ts.usageLimiter.ReleaseUnit(context.Background(), "tenant-a", "api_calls", token))
	rec = ts.do(http.MethodPost, "/api/tenants/tenant-a/usage/api_calls", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// the handler released its own lock
	rec = ts.do(http.MethodPost, "/api/tenants/tenant-a/usage/api_calls", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReportUsageTotalFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.usage = fakeUsage{
		result: &usagedomain.ReportResult{UnitName: "api_calls", Reported: []usagedomain.UsageRecord{}, Failed: 1},
		err:    &usagedomain.ReportError{PriceRowID: "row-1", Err: fmt.Errorf("report: %w", paymentdomain.ErrProcessor)},
	}

	rec := ts.do(http.MethodPost, "/api/tenants/tenant-a/usage/api_calls", nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAppendCredit(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/tenants/tenant-a/credits", []byte(`{"type":" exports ","amount":2,"object_ref":" "}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, ts.credits.appended, 1)
	assert.Equal(t, "exports", ts.credits.appended[0].Type)
	assert.Equal(t, "tenant-a", ts.credits.appended[0].TenantID)
	assert.Nil(t, ts.credits.appended[0].ObjectRef)

	rec = ts.do(http.MethodPost, "/api/tenants/tenant-a/credits", []byte(`{"type":"exports","amount":0}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProductsWithYearlyDiscount(t *testing.T) {
	ts := newTestServer(t)
	ts.catalog = fakeCatalog{products: []catalogdomain.Product{{
		ID:    "prod-1",
		Title: "Pro",
		FlatPrices: []catalogdomain.FlatPrice{
			{Currency: "usd", BillingPeriod: catalogdomain.BillingPeriodMonthly, Amount: decimal.NewFromInt(10), Active: true},
			{Currency: "usd", BillingPeriod: catalogdomain.BillingPeriodYearly, Amount: decimal.NewFromInt(100), Active: true},
		},
	}}}

	rec := ts.do(http.MethodGet, "/api/products", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	products := decode(t, rec)["data"].([]any)
	require.Len(t, products, 1)
	assert.Equal(t, "17%", products[0].(map[string]any)["yearly_discount"])

	rec = ts.do(http.MethodGet, "/api/products/prod-1?currency=eur", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, hasDiscount := decode(t, rec)["data"].(map[string]any)["yearly_discount"]
	assert.False(t, hasDiscount)

	rec = ts.do(http.MethodGet, "/api/products/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}
