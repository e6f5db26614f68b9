package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/tenantbilling/internal/plan"
)

type Service interface {
	CreateCheckout(ctx context.Context, tenantID string, intent plan.PurchaseIntent, opts CheckoutOptions) (*CheckoutResult, error)
	// Reconcile provisions a completed session exactly once. A session that
	// is not complete yet yields (nil, nil).
	Reconcile(ctx context.Context, tenantID, sessionID string) (*ReconcileResult, error)
	// AutoSubscribe provisions a trial or free product for a new tenant.
	// It yields (nil, nil) when nothing is eligible.
	AutoSubscribe(ctx context.Context, tenantID string) (*AutoSubscribeResult, error)
}

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidSession    = errors.New("invalid_checkout_session")
	ErrUnknownPrice      = errors.New("unknown_price")
	ErrSessionNotTracked = errors.New("checkout_session_not_tracked")
	ErrAlreadyProcessed  = errors.New("checkout_session_already_processed")
	ErrCustomerMismatch  = errors.New("checkout_customer_mismatch")
)
