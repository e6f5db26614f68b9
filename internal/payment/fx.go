package payment

import (
	"fmt"

	"github.com/smallbiznis/tenantbilling/internal/config"
	"github.com/smallbiznis/tenantbilling/internal/payment/adapters"
	"github.com/smallbiznis/tenantbilling/internal/payment/adapters/stripe"
	"github.com/smallbiznis/tenantbilling/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.gateway",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
		)
	}),
	fx.Provide(NewGateway),
	fx.Provide(
		func(g domain.Gateway) domain.Processor { return g },
		func(g domain.Gateway) domain.EventVerifier { return g },
	),
)

// NewGateway builds the configured provider's gateway.
func NewGateway(registry *adapters.Registry, cfg config.Config, billing *config.BillingConfigHolder) (domain.Gateway, error) {
	if !registry.ProviderExists(cfg.PaymentProvider) {
		return nil, fmt.Errorf("payment provider %q (PAYMENT_PROVIDER): %w", cfg.PaymentProvider, domain.ErrProviderNotFound)
	}
	return registry.NewGateway(cfg.PaymentProvider, domain.AdapterConfig{
		SecretKey:        cfg.Stripe.SecretKey,
		WebhookSecret:    cfg.Stripe.WebhookSecret,
		WebhookTolerance: billing.Get().WebhookTolerance,
	})
}
