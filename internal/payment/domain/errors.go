package domain

import "errors"

var (
	ErrInvalidConfig    = errors.New("invalid_config")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	// ErrProcessor wraps failures returned by the processor API.
	ErrProcessor = errors.New("payment_processor_error")
	// ErrUnknownSubscriptionItem means the processor no longer knows the
	// subscription item a usage report named.
	ErrUnknownSubscriptionItem = errors.New("unknown_subscription_item")
)
