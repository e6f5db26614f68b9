package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/tenantbilling/internal/checkout/domain"
	"github.com/smallbiznis/tenantbilling/internal/config"
	creditdomain "github.com/smallbiznis/tenantbilling/internal/credit/domain"
	"github.com/smallbiznis/tenantbilling/internal/entitlement"
	"github.com/smallbiznis/tenantbilling/internal/lifecycle"
	"github.com/smallbiznis/tenantbilling/internal/observability"
	obslogger "github.com/smallbiznis/tenantbilling/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tenantbilling/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tenantbilling/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/tenantbilling/internal/payment/domain"
	"github.com/smallbiznis/tenantbilling/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tenantbilling/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(metrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type ginParams struct {
	fx.In

	ObsCfg  observability.Config
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func registerGin(p ginParams) *gin.Engine {
	return NewEngine(p.ObsCfg, p.Metrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type entitlementReader interface {
	GetPlanFeaturesUsage(ctx context.Context, tenantID string) ([]entitlement.FeatureUsage, error)
	GetPlanFeatureUsage(ctx context.Context, tenantID, featureName string) (*entitlement.FeatureUsage, error)
}

type lifecycleHandler interface {
	HandleEvent(ctx context.Context, eventType, externalSubscriptionID string) ([]subscriptiondomain.TenantSubscriptionProduct, error)
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	billing      *config.BillingConfigHolder
	log          *zap.Logger
	catalog      catalogdomain.Service
	checkout     checkoutdomain.Service
	entitlements entitlementReader
	lifecycle    lifecycleHandler
	usage        usagedomain.Service
	credits      creditdomain.Service
	verifier     paymentdomain.EventVerifier
	usageLimiter *ratelimit.UsageLimiter
	metrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Billing      *config.BillingConfigHolder
	Log          *zap.Logger
	Catalog      catalogdomain.Service
	Checkout     checkoutdomain.Service
	Entitlements *entitlement.Engine
	Lifecycle    *lifecycle.Syncer
	Usage        usagedomain.Service
	Credits      creditdomain.Service
	Verifier     paymentdomain.EventVerifier
	UsageLimiter *ratelimit.UsageLimiter `optional:"true"`
	Metrics      *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		billing:      p.Billing,
		log:          p.Log.Named("http.server"),
		catalog:      p.Catalog,
		checkout:     p.Checkout,
		entitlements: p.Entitlements,
		lifecycle:    p.Lifecycle,
		usage:        p.Usage,
		credits:      p.Credits,
		verifier:     p.Verifier,
		usageLimiter: p.UsageLimiter,
		metrics:      p.Metrics,
	}
	svc.registerRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.POST("/webhooks/subscriptions", s.HandleSubscriptionWebhook)

	api := s.engine.Group("/api")
	api.GET("/products", s.ListProducts)
	api.GET("/products/:id", s.GetProduct)

	tenants := api.Group("/tenants/:tenant_id")
	tenants.POST("/checkout", s.CreateCheckout)
	tenants.GET("/checkout/success", s.CheckoutSuccess)
	tenants.POST("/subscription/auto", s.AutoSubscribe)
	tenants.GET("/features", s.ListFeatureUsage)
	tenants.GET("/features/:name", s.GetFeatureUsage)
	tenants.POST("/usage/:unit", s.UsageRateLimit(), s.ReportUsage)
	tenants.POST("/credits", s.AppendCredit)

	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
