package stack

import (
	"context"
	"fmt"
	"sync"

	paymentdomain "github.com/smallbiznis/tenantbilling/internal/payment/domain"
)

var _ paymentdomain.Processor = (*FakeProcessor)(nil)

// FakeProcessor is an in-memory payment processor.
type FakeProcessor struct {
	mu sync.Mutex

	customers     int
	sessions      map[string]*paymentdomain.CheckoutSession
	subscriptions map[string]*paymentdomain.Subscription

	// ReportErrs fails ReportUsage for the listed subscription item ids.
	ReportErrs map[string]error

	CreatedSessions  []paymentdomain.CheckoutSessionInput
	UsageReports     []paymentdomain.UsageReport
	SubscriptionGets int
}

func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{
		sessions:      make(map[string]*paymentdomain.CheckoutSession),
		subscriptions: make(map[string]*paymentdomain.Subscription),
		ReportErrs:    make(map[string]error),
	}
}

func (p *FakeProcessor) PutSession(session paymentdomain.CheckoutSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[session.ID] = &session
}

func (p *FakeProcessor) PutSubscription(sub paymentdomain.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[sub.ID] = &sub
}

func (p *FakeProcessor) CreateCustomer(ctx context.Context, input paymentdomain.CreateCustomerInput) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customers++
	return fmt.Sprintf("cus_%d", p.customers), nil
}

func (p *FakeProcessor) CreateCheckoutSession(ctx context.Context, input paymentdomain.CheckoutSessionInput) (*paymentdomain.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CreatedSessions = append(p.CreatedSessions, input)

	id := fmt.Sprintf("cs_%d", len(p.CreatedSessions))
	session := &paymentdomain.CheckoutSession{
		ID:         id,
		URL:        "https://checkout.test/" + id,
		Status:     paymentdomain.SessionStatusOpen,
		Mode:       input.Mode,
		CustomerID: input.CustomerID,
	}
	for _, item := range input.LineItems {
		qty := int64(0)
		if item.Quantity != nil {
			qty = *item.Quantity
		}
		session.LineItems = append(session.LineItems, paymentdomain.SessionLineItem{PriceID: item.PriceID, Quantity: qty})
	}
	p.sessions[id] = session
	out := *session
	return &out, nil
}

func (p *FakeProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*paymentdomain.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	session, ok := p.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: no such checkout session %s", paymentdomain.ErrProcessor, sessionID)
	}
	out := *session
	return &out, nil
}

func (p *FakeProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*paymentdomain.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SubscriptionGets++
	sub, ok := p.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("%w: no such subscription %s", paymentdomain.ErrProcessor, subscriptionID)
	}
	out := *sub
	return &out, nil
}

func (p *FakeProcessor) ReportUsage(ctx context.Context, report paymentdomain.UsageReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ReportErrs[report.SubscriptionItemID]; err != nil {
		return err
	}
	p.UsageReports = append(p.UsageReports, report)
	return nil
}

// CompleteSession marks a previously created session as paid.
func (p *FakeProcessor) CompleteSession(sessionID, subscriptionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if session, ok := p.sessions[sessionID]; ok {
		session.Status = paymentdomain.SessionStatusComplete
		session.SubscriptionID = subscriptionID
	}
}
