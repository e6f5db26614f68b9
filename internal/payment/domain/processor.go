package domain

import "context"

// Processor is the outbound port to the external payment processor.
type Processor interface {
	CreateCustomer(ctx context.Context, input CreateCustomerInput) (string, error)
	CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	ReportUsage(ctx context.Context, report UsageReport) error
}

// EventVerifier authenticates and decodes inbound webhook payloads.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (*Event, error)
}

// Gateway is a processor together with its webhook verifier.
type Gateway interface {
	Processor
	EventVerifier
}

type GatewayFactory interface {
	Provider() string
	NewGateway(cfg AdapterConfig) (Gateway, error)
}
