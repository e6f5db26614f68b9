package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tenantbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(provideUsageLimiter),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// provideUsageLimiter returns nil when rate limiting is disabled.
func provideUsageLimiter(p Params) (*UsageLimiter, error) {
	cfg := p.Config.RateLimit
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter, err := NewUsageLimiter(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	p.Log.Named("rate.limit").Info("usage trigger rate limit enabled",
		zap.Float64("tenant_rate", cfg.TenantRate),
		zap.Int("tenant_burst", cfg.TenantBurst),
	)
	return limiter, nil
}
