package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tenantbilling/internal/clock"
	"github.com/smallbiznis/tenantbilling/internal/config"
	"github.com/smallbiznis/tenantbilling/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewFromConfig),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *metrics.Metrics `optional:"true"`
}

// NewFromConfig picks the cache driver configured for this process.
func NewFromConfig(p Params) (Cache, error) {
	log := p.Log.Named("cache")

	if p.Config.Cache.Driver != config.CacheDriverRedis {
		log.Info("using in-process cache", zap.Int("max_entries", p.Config.Cache.MaxEntries))
		return NewMemoryCache(p.Config.Cache.MaxEntries, p.Clock, p.Metrics), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Config.Cache.RedisAddr,
		Password: p.Config.Cache.RedisPassword,
		DB:       p.Config.Cache.RedisDB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	log.Info("using redis cache", zap.String("addr", p.Config.Cache.RedisAddr))
	return NewRedisCache(client, p.Metrics), nil
}
