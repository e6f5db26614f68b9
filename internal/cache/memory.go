package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/smallbiznis/tenantbilling/internal/clock"
	"github.com/smallbiznis/tenantbilling/internal/observability/metrics"
)

const defaultMaxEntries = 10000

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryCache is a process-local cache backed by an expirable LRU.
type MemoryCache struct {
	lru     *expirable.LRU[string, memoryEntry]
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewMemoryCache(maxEntries int, clk clock.Clock, m *metrics.Metrics) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	// Per-entry expiry is tracked against clk; the LRU only bounds size.
	return &MemoryCache{
		lru:     expirable.NewLRU[string, memoryEntry](maxEntries, nil, 0),
		clock:   clk,
		metrics: m,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, ErrInvalidKey
	}

	entry, ok := c.lru.Get(key)
	if ok && !entry.expiresAt.IsZero() && !c.clock.Now().Before(entry.expiresAt) {
		c.lru.Remove(key)
		ok = false
	}
	c.metrics.RecordCacheLookup(keyFamily(key), ok)
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(entry.payload, dest); err != nil {
		c.lru.Remove(key)
		return false, err
	}
	return true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	entry := memoryEntry{payload: payload}
	if ttl > 0 {
		entry.expiresAt = c.clock.Now().Add(ttl)
	}
	c.lru.Add(key, entry)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}
	c.lru.Remove(key)
	return nil
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

var _ Cache = (*MemoryCache)(nil)
