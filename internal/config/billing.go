package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig carries the runtime-tunable knobs of the subscription engine.
type BillingConfig struct {
	DefaultCurrency        string        `mapstructure:"defaultCurrency"`
	SubscriptionCacheTTL   time.Duration `mapstructure:"subscriptionCacheTTL"`
	CatalogCacheTTL        time.Duration `mapstructure:"catalogCacheTTL"`
	UsageReportConcurrency int           `mapstructure:"usageReportConcurrency"`
	AutoSubscribe          bool          `mapstructure:"autoSubscribe"`
	WebhookTolerance       time.Duration `mapstructure:"webhookTolerance"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		DefaultCurrency:        "usd",
		SubscriptionCacheTTL:   5 * time.Minute,
		CatalogCacheTTL:        10 * time.Minute,
		UsageReportConcurrency: 4,
		AutoSubscribe:          true,
		WebhookTolerance:       5 * time.Minute,
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder pins cfg without watching any file.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(normalizeBillingConfig(cfg))
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/tenantbilling")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TENANTBILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.defaultCurrency", defaults.DefaultCurrency)
	v.SetDefault("billing.subscriptionCacheTTL", defaults.SubscriptionCacheTTL)
	v.SetDefault("billing.catalogCacheTTL", defaults.CatalogCacheTTL)
	v.SetDefault("billing.usageReportConcurrency", defaults.UsageReportConcurrency)
	v.SetDefault("billing.autoSubscribe", defaults.AutoSubscribe)
	v.SetDefault("billing.webhookTolerance", defaults.WebhookTolerance)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	cfg = normalizeBillingConfig(cfg)
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Warn("billing config reload failed", zap.Error(err))
			return
		}
		updated = normalizeBillingConfig(updated)
		if err := validateBillingConfig(updated); err != nil {
			log.Warn("invalid billing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

func normalizeBillingConfig(cfg BillingConfig) BillingConfig {
	cfg.DefaultCurrency = strings.ToLower(strings.TrimSpace(cfg.DefaultCurrency))
	return cfg
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.DefaultCurrency == "" {
		return errors.New("billing.defaultCurrency cannot be empty")
	}
	if cfg.SubscriptionCacheTTL <= 0 {
		return errors.New("billing.subscriptionCacheTTL must be positive")
	}
	if cfg.CatalogCacheTTL <= 0 {
		return errors.New("billing.catalogCacheTTL must be positive")
	}
	if cfg.UsageReportConcurrency <= 0 {
		return errors.New("billing.usageReportConcurrency must be positive")
	}
	return nil
}
