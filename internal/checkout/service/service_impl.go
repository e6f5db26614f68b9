package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	"github.com/smallbiznis/tenantbilling/internal/checkout/domain"
	"github.com/smallbiznis/tenantbilling/internal/clock"
	"github.com/smallbiznis/tenantbilling/internal/config"
	"github.com/smallbiznis/tenantbilling/internal/observability/metrics"
	"github.com/smallbiznis/tenantbilling/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/tenantbilling/internal/payment/domain"
	"github.com/smallbiznis/tenantbilling/internal/plan"
	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Config           config.Config
	Billing          *config.BillingConfigHolder
	Clock            clock.Clock
	Repo             domain.Repository
	Catalog          catalogdomain.Service
	Resolver         *plan.Resolver
	Processor        paymentdomain.Processor
	Subscriptions    subscriptiondomain.Service
	SubscriptionRepo subscriptiondomain.Repository
	Metrics          *metrics.Metrics `optional:"true"`
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	cfg              config.Config
	billing          *config.BillingConfigHolder
	clock            clock.Clock
	repo             domain.Repository
	catalog          catalogdomain.Service
	resolver         *plan.Resolver
	processor        paymentdomain.Processor
	subscriptions    subscriptiondomain.Service
	subscriptionRepo subscriptiondomain.Repository
	metrics          *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("checkout.service"),
		genID:            p.GenID,
		cfg:              p.Config,
		billing:          p.Billing,
		clock:            p.Clock,
		repo:             p.Repo,
		catalog:          p.Catalog,
		resolver:         p.Resolver,
		processor:        p.Processor,
		subscriptions:    p.Subscriptions,
		subscriptionRepo: p.SubscriptionRepo,
		metrics:          p.Metrics,
	}
}

// CreateCheckout resolves intent, makes sure the tenant has an external
// customer, opens a processor checkout session and registers it as pending.
func (s *Service) CreateCheckout(ctx context.Context, tenantID string, intent plan.PurchaseIntent, opts domain.CheckoutOptions) (*domain.CheckoutResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}

	ctx, span := tracing.StartSpan(ctx, "checkout.create", attribute.String("tenant_id", tenantID))
	result, err := s.createCheckout(ctx, tenantID, intent, opts)
	tracing.EndSpan(span, err)
	return result, err
}

func (s *Service) createCheckout(ctx context.Context, tenantID string, intent plan.PurchaseIntent, opts domain.CheckoutOptions) (*domain.CheckoutResult, error) {
	resolved, err := s.resolver.Resolve(ctx, intent)
	if err != nil {
		return nil, err
	}

	customerID, err := s.ensureCustomer(ctx, tenantID, opts.Email)
	if err != nil {
		return nil, err
	}

	input := paymentdomain.CheckoutSessionInput{
		TenantID:          tenantID,
		CustomerID:        customerID,
		Mode:              string(resolved.Mode),
		Coupon:            resolved.Coupon,
		SuccessURL:        s.redirectURL(opts.SuccessURL, s.cfg.Stripe.SuccessURL, tenantID),
		CancelURL:         s.redirectURL(opts.CancelURL, s.cfg.Stripe.CancelURL, tenantID),
		ClientReferenceID: tenantID,
		Metadata: map[string]string{
			"tenant_id":    tenantID,
			"product_id":   resolved.Product.ID,
			"is_upgrade":   strconv.FormatBool(resolved.IsUpgrade),
			"is_downgrade": strconv.FormatBool(resolved.IsDowngrade),
		},
	}
	if resolved.Referral != "" {
		input.Metadata["referral"] = resolved.Referral
	}
	if resolved.Mode == plan.ModeSubscription {
		input.TrialDays = resolved.TrialDays
	}
	for _, item := range resolved.LineItems {
		input.LineItems = append(input.LineItems, paymentdomain.LineItem{
			PriceID:  item.ExternalPriceID,
			Quantity: item.Quantity,
		})
	}

	session, err := s.processor.CreateCheckoutSession(ctx, input)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	status := &domain.CheckoutSessionStatus{
		ID:           session.ID,
		TenantID:     tenantID,
		Pending:      true,
		Email:        optional(opts.Email),
		URL:          optional(session.URL),
		FromUserID:   optional(opts.UserID),
		FromTenantID: &tenantID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.InsertStatus(ctx, s.db, status); err != nil {
		return nil, err
	}

	s.log.Info("checkout session created",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", session.ID),
		zap.String("product_id", resolved.Product.ID),
		zap.String("mode", string(resolved.Mode)),
	)
	return &domain.CheckoutResult{SessionID: session.ID, URL: session.URL, Mode: string(resolved.Mode)}, nil
}

func (s *Service) ensureCustomer(ctx context.Context, tenantID, email string) (string, error) {
	sub, err := s.subscriptions.EnsureTenantSubscription(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if sub.ExternalCustomerID != nil && *sub.ExternalCustomerID != "" {
		return *sub.ExternalCustomerID, nil
	}

	customerID, err := s.processor.CreateCustomer(ctx, paymentdomain.CreateCustomerInput{
		TenantID: tenantID,
		Email:    strings.TrimSpace(email),
	})
	if err != nil {
		return "", err
	}
	if err := s.subscriptions.SetExternalCustomer(ctx, tenantID, customerID); err != nil {
		return "", err
	}
	return customerID, nil
}

func (s *Service) redirectURL(override, fallback, tenantID string) string {
	raw := strings.TrimSpace(override)
	if raw == "" {
		raw = fallback
	}
	return strings.ReplaceAll(raw, "{TENANT_ID}", tenantID)
}

type productGroup struct {
	product  *catalogdomain.Product
	quantity int64
	prices   []*catalogdomain.ResolvedPrice
}

// Reconcile turns a completed checkout session into product instances.
func (s *Service) Reconcile(ctx context.Context, tenantID, sessionID string) (*domain.ReconcileResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	sessionID = strings.TrimSpace(sessionID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}
	if sessionID == "" {
		return nil, domain.ErrInvalidSession
	}

	ctx, span := tracing.StartSpan(ctx, "checkout.reconcile",
		attribute.String("tenant_id", tenantID),
		attribute.String("session_id", sessionID),
	)
	result, err := s.reconcile(ctx, tenantID, sessionID)
	tracing.EndSpan(span, err)

	switch {
	case err == nil && result == nil:
		s.metrics.RecordCheckoutReconciliation(metrics.ResultSkipped)
	case err == nil:
		s.metrics.RecordCheckoutReconciliation(metrics.ResultSuccess)
	case errors.Is(err, domain.ErrAlreadyProcessed):
		s.metrics.RecordCheckoutReconciliation(metrics.ResultSkipped)
	default:
		s.metrics.RecordCheckoutReconciliation(metrics.ResultFailure)
	}
	return result, err
}

func (s *Service) reconcile(ctx context.Context, tenantID, sessionID string) (*domain.ReconcileResult, error) {
	log := s.log.With(zap.String("tenant_id", tenantID), zap.String("session_id", sessionID))

	session, err := s.processor.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Complete() {
		log.Info("checkout session not complete", zap.String("status", session.Status))
		return nil, nil
	}

	groups, err := s.groupLineItems(ctx, session.LineItems)
	if err != nil {
		return nil, err
	}

	status, err := s.repo.FindStatus(ctx, s.db, session.ID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, domain.ErrSessionNotTracked
	}
	if !status.Pending {
		return nil, domain.ErrAlreadyProcessed
	}
	if status.TenantID != tenantID {
		return nil, domain.ErrCustomerMismatch
	}

	owner, err := s.subscriptions.GetTenantSubscription(ctx, tenantID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrNotFound) {
			return nil, domain.ErrCustomerMismatch
		}
		return nil, err
	}
	if owner.ExternalCustomerID == nil || session.CustomerID == "" || *owner.ExternalCustomerID != session.CustomerID {
		return nil, domain.ErrCustomerMismatch
	}

	var external *paymentdomain.Subscription
	if session.SubscriptionID != "" {
		external, err = s.processor.GetSubscription(ctx, session.SubscriptionID)
		if err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	provisioned := make([]subscriptiondomain.TenantSubscriptionProduct, 0, len(groups))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flipped, err := s.repo.MarkProcessed(ctx, tx, session.ID, tenantID, now)
		if err != nil {
			return err
		}
		if !flipped {
			return domain.ErrAlreadyProcessed
		}

		for _, group := range groups {
			product, err := s.insertProduct(ctx, tx, owner.ID, session, external, group, now)
			if err != nil {
				return err
			}
			provisioned = append(provisioned, *product)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.subscriptions.Invalidate(ctx, tenantID); err != nil {
		log.Warn("subscription cache invalidate failed", zap.Error(err))
	}

	log.Info("checkout session reconciled", zap.Int("products", len(provisioned)))
	return &domain.ReconcileResult{SessionID: session.ID, Products: provisioned}, nil
}

// groupLineItems maps every purchased line back to a local price and
// groups them by product in first-seen order. Any unknown price fails the
// whole session.
func (s *Service) groupLineItems(ctx context.Context, items []paymentdomain.SessionLineItem) ([]*productGroup, error) {
	if len(items) == 0 {
		return nil, domain.ErrUnknownPrice
	}

	byProduct := make(map[string]*productGroup)
	var ordered []*productGroup
	for _, item := range items {
		resolved, err := s.catalog.ResolveExternalPrice(ctx, item.PriceID)
		if err != nil {
			if errors.Is(err, catalogdomain.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPrice, item.PriceID)
			}
			return nil, err
		}

		group, ok := byProduct[resolved.Product.ID]
		if !ok {
			group = &productGroup{product: resolved.Product, quantity: 1}
			byProduct[resolved.Product.ID] = group
			ordered = append(ordered, group)
		}
		if resolved.Flat != nil && item.Quantity > 0 {
			group.quantity = item.Quantity
		}
		group.prices = append(group.prices, resolved)
	}
	return ordered, nil
}

func (s *Service) insertProduct(
	ctx context.Context,
	tx *gorm.DB,
	tenantSubscriptionID string,
	session *paymentdomain.CheckoutSession,
	external *paymentdomain.Subscription,
	group *productGroup,
	now time.Time,
) (*subscriptiondomain.TenantSubscriptionProduct, error) {
	product := &subscriptiondomain.TenantSubscriptionProduct{
		ID:                   s.genID.Generate().String(),
		TenantSubscriptionID: tenantSubscriptionID,
		ProductID:            group.product.ID,
		Quantity:             group.quantity,
		CheckoutSessionID:    &session.ID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if external != nil {
		product.ExternalSubscriptionID = &external.ID
		product.CurrentPeriodStart = external.CurrentPeriodStart
		product.CurrentPeriodEnd = external.CurrentPeriodEnd
	}
	if err := s.subscriptionRepo.InsertProduct(ctx, tx, product); err != nil {
		return nil, err
	}

	prices := make([]subscriptiondomain.TenantSubscriptionProductPrice, 0, len(group.prices))
	for _, resolved := range group.prices {
		row := subscriptiondomain.TenantSubscriptionProductPrice{
			ID:                          s.genID.Generate().String(),
			TenantSubscriptionProductID: product.ID,
			CreatedAt:                   now,
		}
		externalPriceID := ""
		if resolved.Flat != nil {
			row.FlatPriceID = &resolved.Flat.ID
			externalPriceID = resolved.Flat.ExternalPriceID
		} else {
			row.UsageBasedPriceID = &resolved.Usage.ID
			externalPriceID = resolved.Usage.ExternalPriceID
		}
		if external != nil {
			if item, ok := external.ItemForPrice(externalPriceID); ok {
				itemID := item.ID
				row.ExternalSubscriptionItemID = &itemID
			}
		}
		prices = append(prices, row)
	}
	if err := s.subscriptionRepo.InsertProductPrices(ctx, tx, prices); err != nil {
		return nil, err
	}
	product.Prices = prices
	return product, nil
}

// AutoSubscribe provisions the first catalog product offering a trial in
// the default currency, else the first free one. It runs at most once per
// tenant: the claim on the tenant's marker, the check for any instance ever
// owned and the insert share one transaction.
func (s *Service) AutoSubscribe(ctx context.Context, tenantID string) (*domain.AutoSubscribeResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}
	billing := s.billing.Get()
	if !billing.AutoSubscribe {
		return nil, nil
	}

	owner, err := s.subscriptions.EnsureTenantSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if owner.AutoSubscribedAt != nil {
		return nil, nil
	}

	products, err := s.catalog.ListProducts(ctx, catalogdomain.ListFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	currency := billing.DefaultCurrency
	now := s.clock.Now()

	var (
		chosen *catalogdomain.Product
		branch domain.AutoSubscribeBranch
		trial  *catalogdomain.FlatPrice
	)
	for i := range products {
		if fp, ok := products[i].TrialPrice(currency); ok {
			chosen, branch, trial = &products[i], domain.AutoSubscribeTrial, fp
			break
		}
	}
	if chosen == nil {
		for i := range products {
			if products[i].Free(currency) {
				chosen, branch = &products[i], domain.AutoSubscribeFree
				break
			}
		}
	}
	if chosen == nil {
		s.log.Info("no auto-subscribe product", zap.String("tenant_id", tenantID), zap.String("currency", currency))
		return nil, nil
	}

	instance := subscriptiondomain.TenantSubscriptionProduct{
		ID:                   s.genID.Generate().String(),
		TenantSubscriptionID: owner.ID,
		ProductID:            chosen.ID,
		Quantity:             1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	var prices []subscriptiondomain.TenantSubscriptionProductPrice
	switch branch {
	case domain.AutoSubscribeTrial:
		ends := now.AddDate(0, 0, trial.TrialDays)
		instance.EndsAt = &ends
		instance.CurrentPeriodStart = &now
		instance.CurrentPeriodEnd = &ends
		prices = append(prices, s.flatPriceRow(instance.ID, trial.ID, now))
	case domain.AutoSubscribeFree:
		for _, fp := range chosen.FlatPrices {
			if fp.Active && fp.Currency == currency {
				prices = append(prices, s.flatPriceRow(instance.ID, fp.ID, now))
			}
		}
		for _, up := range chosen.UsagePricesFor(currency) {
			usageID := up.ID
			prices = append(prices, subscriptiondomain.TenantSubscriptionProductPrice{
				ID:                          s.genID.Generate().String(),
				TenantSubscriptionProductID: instance.ID,
				UsageBasedPriceID:           &usageID,
				CreatedAt:                   now,
			})
		}
	}

	provisioned := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.subscriptionRepo.ClaimAutoSubscribe(ctx, tx, owner.ID, now)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		existing, err := s.subscriptionRepo.ListProducts(ctx, tx, owner.ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		if err := s.subscriptionRepo.InsertProduct(ctx, tx, &instance); err != nil {
			return err
		}
		if err := s.subscriptionRepo.InsertProductPrices(ctx, tx, prices); err != nil {
			return err
		}
		provisioned = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !provisioned {
		s.log.Info("tenant already auto-subscribed or provisioned", zap.String("tenant_id", tenantID))
		return nil, nil
	}
	instance.Prices = prices

	if err := s.subscriptions.Invalidate(ctx, tenantID); err != nil {
		s.log.Warn("subscription cache invalidate failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}

	s.log.Info("tenant auto-subscribed",
		zap.String("tenant_id", tenantID),
		zap.String("product_id", chosen.ID),
		zap.String("branch", string(branch)),
	)
	return &domain.AutoSubscribeResult{Branch: branch, Product: instance}, nil
}

func (s *Service) flatPriceRow(instanceID, flatPriceID string, now time.Time) subscriptiondomain.TenantSubscriptionProductPrice {
	return subscriptiondomain.TenantSubscriptionProductPrice{
		ID:                          s.genID.Generate().String(),
		TenantSubscriptionProductID: instanceID,
		FlatPriceID:                 &flatPriceID,
		CreatedAt:                   now,
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
