package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/tenantbilling/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const providerName = "stripe"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewGateway(cfg paymentdomain.AdapterConfig) (paymentdomain.Gateway, error) {
	secretKey := strings.TrimSpace(cfg.SecretKey)
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if secretKey == "" || webhookSecret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return NewAdapter(client.New(secretKey, nil), webhookSecret, cfg.WebhookTolerance), nil
}

// Adapter implements the processor port on top of the Stripe API.
type Adapter struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
}

func NewAdapter(api *client.API, webhookSecret string, tolerance time.Duration) *Adapter {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Adapter{
		api:           api,
		webhookSecret: webhookSecret,
		tolerance:     tolerance,
	}
}

func (a *Adapter) CreateCustomer(ctx context.Context, input paymentdomain.CreateCustomerInput) (string, error) {
	params := &stripego.CustomerParams{}
	params.Context = ctx
	if email := strings.TrimSpace(input.Email); email != "" {
		params.Email = stripego.String(email)
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		params.Name = stripego.String(name)
	}
	params.AddMetadata("tenant_id", input.TenantID)

	customer, err := a.api.Customers.New(params)
	if err != nil {
		return "", wrapError("create customer", err)
	}
	return customer.ID, nil
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, input paymentdomain.CheckoutSessionInput) (*paymentdomain.CheckoutSession, error) {
	params := &stripego.CheckoutSessionParams{
		Mode:       stripego.String(input.Mode),
		Customer:   stripego.String(input.CustomerID),
		SuccessURL: stripego.String(input.SuccessURL),
		CancelURL:  stripego.String(input.CancelURL),
	}
	params.Context = ctx
	if input.ClientReferenceID != "" {
		params.ClientReferenceID = stripego.String(input.ClientReferenceID)
	}
	for _, item := range input.LineItems {
		line := &stripego.CheckoutSessionLineItemParams{Price: stripego.String(item.PriceID)}
		if item.Quantity != nil {
			line.Quantity = stripego.Int64(*item.Quantity)
		}
		params.LineItems = append(params.LineItems, line)
	}
	if input.Mode == paymentdomain.CheckoutModeSubscription && input.TrialDays > 0 {
		params.SubscriptionData = &stripego.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripego.Int64(int64(input.TrialDays)),
		}
	}
	if input.Coupon != "" {
		params.Discounts = []*stripego.CheckoutSessionDiscountParams{
			{Coupon: stripego.String(input.Coupon)},
		}
	}
	params.AddMetadata("tenant_id", input.TenantID)
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}

	session, err := a.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrapError("create checkout session", err)
	}
	return toCheckoutSession(session), nil
}

func (a *Adapter) GetCheckoutSession(ctx context.Context, sessionID string) (*paymentdomain.CheckoutSession, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")

	session, err := a.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, wrapError("get checkout session", err)
	}
	return toCheckoutSession(session), nil
}

func (a *Adapter) GetSubscription(ctx context.Context, subscriptionID string) (*paymentdomain.Subscription, error) {
	params := &stripego.SubscriptionParams{}
	params.Context = ctx

	sub, err := a.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, wrapError("get subscription", err)
	}
	return toSubscription(sub), nil
}

func (a *Adapter) ReportUsage(ctx context.Context, report paymentdomain.UsageReport) error {
	params := &stripego.UsageRecordParams{
		SubscriptionItem: stripego.String(report.SubscriptionItemID),
		Quantity:         stripego.Int64(report.Quantity),
		Timestamp:        stripego.Int64(report.Timestamp.Unix()),
		Action:           stripego.String("increment"),
	}
	params.Context = ctx
	if report.IdempotencyKey != "" {
		params.SetIdempotencyKey(report.IdempotencyKey)
	}

	if _, err := a.api.UsageRecords.New(params); err != nil {
		return wrapUsageError(err)
	}
	return nil
}

// Verify checks the Stripe-Signature header and extracts the subscription
// the event refers to.
func (a *Adapter) Verify(payload []byte, signatureHeader string) (*paymentdomain.Event, error) {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, a.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                a.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidSignature, err)
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.Event{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}
	subscriptionID, err := subscriptionIDFromObject(out.Type, event.Data.Raw)
	if err != nil {
		return nil, err
	}
	out.SubscriptionID = subscriptionID
	return out, nil
}

type eventObject struct {
	ID           string          `json:"id"`
	Object       string          `json:"object"`
	Subscription json.RawMessage `json:"subscription"`
}

func subscriptionIDFromObject(eventType string, raw json.RawMessage) (string, error) {
	var obj eventObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", paymentdomain.ErrInvalidPayload
	}

	// Schedules reference their subscription; subscription events carry it as the object.
	if strings.HasPrefix(eventType, "subscription_schedule.") {
		return expandableID(obj.Subscription), nil
	}
	if obj.Object == "subscription" || strings.HasPrefix(eventType, "customer.subscription.") {
		return obj.ID, nil
	}
	return "", nil
}

// expandableID reads a field that is either an id string or an expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func toCheckoutSession(session *stripego.CheckoutSession) *paymentdomain.CheckoutSession {
	out := &paymentdomain.CheckoutSession{
		ID:            session.ID,
		URL:           session.URL,
		Status:        string(session.Status),
		Mode:          string(session.Mode),
		CustomerEmail: session.CustomerEmail,
	}
	if session.Customer != nil {
		out.CustomerID = session.Customer.ID
	}
	if out.CustomerEmail == "" && session.CustomerDetails != nil {
		out.CustomerEmail = session.CustomerDetails.Email
	}
	if session.Subscription != nil {
		out.SubscriptionID = session.Subscription.ID
	}
	if session.LineItems != nil {
		for _, item := range session.LineItems.Data {
			if item == nil || item.Price == nil {
				continue
			}
			out.LineItems = append(out.LineItems, paymentdomain.SessionLineItem{
				PriceID:  item.Price.ID,
				Quantity: item.Quantity,
			})
		}
	}
	return out
}

func toSubscription(sub *stripego.Subscription) *paymentdomain.Subscription {
	out := &paymentdomain.Subscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CancelAt:           unixTime(sub.CancelAt),
		CanceledAt:         unixTime(sub.CanceledAt),
		EndedAt:            unixTime(sub.EndedAt),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if out.CancelAtPeriodEnd && out.CancelAt == nil {
		out.CancelAt = out.CurrentPeriodEnd
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			converted := paymentdomain.SubscriptionItem{ID: item.ID, Quantity: item.Quantity}
			if item.Price != nil {
				converted.PriceID = item.Price.ID
			}
			out.Items = append(out.Items, converted)
		}
	}
	return out
}

func unixTime(value int64) *time.Time {
	if value <= 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}

func wrapError(op string, err error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %s: %s (%s)", paymentdomain.ErrProcessor, op, stripeErr.Msg, stripeErr.Code)
	}
	return fmt.Errorf("%w: %s: %v", paymentdomain.ErrProcessor, op, err)
}

func wrapUsageError(err error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) && stripeErr.Code == stripego.ErrorCodeResourceMissing {
		return fmt.Errorf("%w: %w: report usage: %s", paymentdomain.ErrProcessor, paymentdomain.ErrUnknownSubscriptionItem, stripeErr.Msg)
	}
	return wrapError("report usage", err)
}

var _ paymentdomain.Gateway = (*Adapter)(nil)
