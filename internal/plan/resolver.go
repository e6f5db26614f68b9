package plan

import (
	"context"
	"errors"
	"strings"

	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	"github.com/smallbiznis/tenantbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Catalog catalogdomain.Service
	Billing *config.BillingConfigHolder
}

type Resolver struct {
	log     *zap.Logger
	catalog catalogdomain.Service
	billing *config.BillingConfigHolder
}

func NewResolver(p Params) *Resolver {
	return &Resolver{
		log:     p.Log.Named("plan.resolver"),
		catalog: p.Catalog,
		billing: p.Billing,
	}
}

// Resolve picks the flat and usage-based prices matching intent. It never
// calls the payment processor.
func (r *Resolver) Resolve(ctx context.Context, intent PurchaseIntent) (*ResolvedPlan, error) {
	productID := strings.TrimSpace(intent.ProductID)
	if productID == "" {
		return nil, ErrInvalidProduct
	}
	product, err := r.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, catalogdomain.ErrNotFound) || errors.Is(err, catalogdomain.ErrInvalidID) {
			return nil, ErrInvalidProduct
		}
		return nil, err
	}
	if !product.Active {
		return nil, ErrInvalidProduct
	}

	currency := strings.ToLower(strings.TrimSpace(intent.Currency))
	if currency == "" {
		currency = r.billing.Get().DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, ErrInvalidCurrency
	}

	quantity := intent.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 || (quantity > 1 && !product.SupportsQuantity) {
		return nil, ErrInvalidQuantity
	}

	var (
		mode   Mode
		period catalogdomain.BillingPeriod
	)
	switch product.PricingModel {
	case catalogdomain.PricingModelOneTime:
		mode = ModePayment
		period = catalogdomain.BillingPeriodOnce
	case catalogdomain.PricingModelFlatRate,
		catalogdomain.PricingModelPerSeat,
		catalogdomain.PricingModelUsageBased,
		catalogdomain.PricingModelFlatRatePlusUsageBased:
		mode = ModeSubscription
		period = catalogdomain.ParseBillingPeriod(intent.BillingPeriod)
		if period == "" {
			period = catalogdomain.BillingPeriodMonthly
		}
		if !period.Valid() || period == catalogdomain.BillingPeriodOnce {
			return nil, ErrInvalidBillingPeriod
		}
	default:
		return nil, ErrInvalidProduct
	}

	flat, hasFlat := product.FlatPriceFor(currency, period)
	usage := product.UsagePricesFor(currency)
	if !hasFlat && len(usage) == 0 {
		return nil, ErrInvalidPrice
	}

	resolved := &ResolvedPlan{
		Product:       product,
		Mode:          mode,
		Currency:      currency,
		BillingPeriod: period,
		Quantity:      quantity,
		UsagePrices:   usage,
		Coupon:        strings.TrimSpace(intent.Coupon),
		IsUpgrade:     intent.IsUpgrade,
		IsDowngrade:   intent.IsDowngrade,
		Referral:      strings.TrimSpace(intent.Referral),
	}
	if hasFlat {
		resolved.FlatPrice = flat
		qty := quantity
		resolved.LineItems = append(resolved.LineItems, LineItem{ExternalPriceID: flat.ExternalPriceID, Quantity: &qty})
		if flat.TrialDays > 0 {
			resolved.TrialDays = flat.TrialDays
		}
	}
	for _, up := range usage {
		resolved.LineItems = append(resolved.LineItems, LineItem{ExternalPriceID: up.ExternalPriceID})
	}

	r.log.Debug("plan resolved",
		zap.String("product_id", product.ID),
		zap.String("mode", string(mode)),
		zap.String("currency", currency),
		zap.String("billing_period", string(period)),
		zap.Int("line_items", len(resolved.LineItems)),
	)
	return resolved, nil
}
