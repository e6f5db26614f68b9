package cache

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/tenantbilling/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedValue struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func TestMemoryCacheSetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), nil)

	require.NoError(t, c.Set(ctx, SubscriptionKey("t1"), cachedValue{Name: "a", Items: []string{"x"}}, time.Minute))

	var got cachedValue
	ok, err := c.Get(ctx, SubscriptionKey("t1"), &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", got.Name)

	got.Items[0] = "mutated"
	var again cachedValue
	_, err = c.Get(ctx, SubscriptionKey("t1"), &again)
	require.NoError(t, err)
	assert.Equal(t, "x", again.Items[0])

	require.NoError(t, c.Invalidate(ctx, SubscriptionKey("t1")))
	ok, err = c.Get(ctx, SubscriptionKey("t1"), &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheExpiresWithClock(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewMemoryCache(10, clk, nil)

	require.NoError(t, c.Set(ctx, CatalogProductsKey(), []string{"p1"}, 5*time.Minute))

	clk.Advance(4 * time.Minute)
	var got []string
	ok, err := c.Get(ctx, CatalogProductsKey(), &got)
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(time.Minute)
	ok, err = c.Get(ctx, CatalogProductsKey(), &got)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheRejectsBlankKey(t *testing.T) {
	c := NewMemoryCache(1, nil, nil)
	assert.ErrorIs(t, c.Set(context.Background(), " ", 1, 0), ErrInvalidKey)
	assert.ErrorIs(t, c.Invalidate(context.Background(), ""), ErrInvalidKey)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "tenant_subscription:t-42", SubscriptionKey(" t-42 "))
	assert.Equal(t, "catalog:products", CatalogProductsKey())
	assert.Equal(t, "tenant_subscription", keyFamily(SubscriptionKey("t-42")))
}
