package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantbilling/internal/cache"
	"github.com/smallbiznis/tenantbilling/internal/catalog"
	"github.com/smallbiznis/tenantbilling/internal/checkout"
	"github.com/smallbiznis/tenantbilling/internal/clock"
	"github.com/smallbiznis/tenantbilling/internal/config"
	"github.com/smallbiznis/tenantbilling/internal/credit"
	"github.com/smallbiznis/tenantbilling/internal/entitlement"
	"github.com/smallbiznis/tenantbilling/internal/lifecycle"
	"github.com/smallbiznis/tenantbilling/internal/migration"
	"github.com/smallbiznis/tenantbilling/internal/observability"
	"github.com/smallbiznis/tenantbilling/internal/payment"
	"github.com/smallbiznis/tenantbilling/internal/plan"
	"github.com/smallbiznis/tenantbilling/internal/ratelimit"
	"github.com/smallbiznis/tenantbilling/internal/server"
	"github.com/smallbiznis/tenantbilling/internal/subscription"
	"github.com/smallbiznis/tenantbilling/internal/tenant"
	"github.com/smallbiznis/tenantbilling/internal/usage"
	"github.com/smallbiznis/tenantbilling/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		migration.Module,

		// Billing domains
		catalog.Module,
		subscription.Module,
		tenant.Module,
		credit.Module,
		plan.Module,
		payment.Module,
		checkout.Module,
		lifecycle.Module,
		entitlement.Module,
		usage.Module,

		ratelimit.Module,
		server.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
