// Package lifecycle keeps owned product instances in step with the payment
// processor's view of their subscription.
package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/tenantbilling/internal/clock"
	"github.com/smallbiznis/tenantbilling/internal/observability/metrics"
	"github.com/smallbiznis/tenantbilling/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/tenantbilling/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const statusCanceled = "canceled"

var (
	ErrUnsupportedEvent      = errors.New("unsupported_lifecycle_event")
	ErrSubscriptionNotMapped = errors.New("subscription_not_mapped")
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	Processor     paymentdomain.Processor
	Subscriptions subscriptiondomain.Service
	Metrics       *metrics.Metrics `optional:"true"`
}

type Syncer struct {
	log           *zap.Logger
	clock         clock.Clock
	processor     paymentdomain.Processor
	subscriptions subscriptiondomain.Service
	metrics       *metrics.Metrics
}

func NewSyncer(p Params) *Syncer {
	return &Syncer{
		log:           p.Log.Named("lifecycle.sync"),
		clock:         p.Clock,
		processor:     p.Processor,
		subscriptions: p.Subscriptions,
		metrics:       p.Metrics,
	}
}

// HandleEvent re-reads the subscription from the processor and writes the
// derived cancellation and period fields onto every local instance it
// bills. Only the subscription id is taken from the event, so replays and
// out-of-order deliveries converge on the same state.
func (s *Syncer) HandleEvent(ctx context.Context, eventType, externalSubscriptionID string) ([]subscriptiondomain.TenantSubscriptionProduct, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.handle_event",
		attribute.String("event_type", eventType),
		attribute.String("subscription_id", externalSubscriptionID),
	)
	updated, err := s.handleEvent(ctx, eventType, strings.TrimSpace(externalSubscriptionID))
	tracing.EndSpan(span, err)

	switch {
	case err == nil:
		s.metrics.RecordLifecycleEvent(eventType, metrics.ResultSuccess)
	case errors.Is(err, ErrSubscriptionNotMapped):
		s.metrics.RecordLifecycleEvent(eventType, metrics.ResultSkipped)
	default:
		s.metrics.RecordLifecycleEvent(eventType, metrics.ResultFailure)
	}
	return updated, err
}

func (s *Syncer) handleEvent(ctx context.Context, eventType, externalSubscriptionID string) ([]subscriptiondomain.TenantSubscriptionProduct, error) {
	if !paymentdomain.IsLifecycleEvent(eventType) {
		return nil, ErrUnsupportedEvent
	}
	log := s.log.With(zap.String("event_type", eventType), zap.String("subscription_id", externalSubscriptionID))

	products, owner, err := s.subscriptions.FindByExternalSubscription(ctx, externalSubscriptionID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrProductNotFound) || errors.Is(err, subscriptiondomain.ErrNotFound) {
			log.Info("lifecycle event for unknown subscription")
			return nil, ErrSubscriptionNotMapped
		}
		return nil, err
	}

	remote, err := s.processor.GetSubscription(ctx, externalSubscriptionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updated := make([]subscriptiondomain.TenantSubscriptionProduct, 0, len(products))
	for _, product := range products {
		update := Derive(product, *remote, now)
		if err := s.subscriptions.UpdateLifecycle(ctx, owner.TenantID, product.ID, update); err != nil {
			return nil, err
		}
		product.CancelledAt = update.CancelledAt
		product.EndsAt = update.EndsAt
		product.CurrentPeriodStart = update.CurrentPeriodStart
		product.CurrentPeriodEnd = update.CurrentPeriodEnd
		updated = append(updated, product)
	}

	log.Info("subscription lifecycle synced",
		zap.String("tenant_id", owner.TenantID),
		zap.String("status", remote.Status),
		zap.Int("products", len(updated)),
	)
	return updated, nil
}

// Derive computes the local lifecycle fields from the processor's state.
// Values already stored win over "now" so a replay writes the same row.
func Derive(current subscriptiondomain.TenantSubscriptionProduct, remote paymentdomain.Subscription, now time.Time) subscriptiondomain.LifecycleUpdate {
	update := subscriptiondomain.LifecycleUpdate{
		CurrentPeriodStart: remote.CurrentPeriodStart,
		CurrentPeriodEnd:   remote.CurrentPeriodEnd,
	}
	if update.CurrentPeriodStart == nil {
		update.CurrentPeriodStart = current.CurrentPeriodStart
	}
	if update.CurrentPeriodEnd == nil {
		update.CurrentPeriodEnd = current.CurrentPeriodEnd
	}

	switch {
	case remote.Status == statusCanceled || remote.EndedAt != nil:
		update.CancelledAt = firstTime(remote.CanceledAt, current.CancelledAt, &now)
		update.EndsAt = firstTime(remote.EndedAt, current.EndsAt, &now)
	case remote.CancelAt != nil:
		update.EndsAt = firstTime(remote.CancelAt)
		update.CancelledAt = firstTime(current.CancelledAt, &now)
	default:
		// Resumed or never cancelled.
	}
	return update
}

func firstTime(candidates ...*time.Time) *time.Time {
	for _, t := range candidates {
		if t != nil {
			v := t.UTC()
			return &v
		}
	}
	return nil
}
