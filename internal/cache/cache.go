package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrInvalidKey is returned for blank keys.
var ErrInvalidKey = errors.New("invalid_cache_key")

// Cache is a keyed TTL store. Values are JSON encoded, so callers always
// receive a private copy in dest.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

const (
	subscriptionPrefix = "tenant_subscription"
	catalogPrefix      = "catalog"
)

// SubscriptionKey is the key owned by the subscription store for a tenant.
func SubscriptionKey(tenantID string) string {
	return cacheKey(subscriptionPrefix, tenantID)
}

// CatalogProductsKey is the key owned by the pricing catalog.
func CatalogProductsKey() string {
	return cacheKey(catalogPrefix, "products")
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	return strings.Join(values, ":")
}

// keyFamily returns the prefix used as a low-cardinality metrics label.
func keyFamily(key string) string {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx]
	}
	return key
}
