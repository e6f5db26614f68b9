package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBRunMigrations   bool

	Cache           CacheConfig
	RateLimit       RateLimitConfig
	PaymentProvider string
	Stripe          StripeConfig

	CatalogFile string
	NodeID      int64
}

type CacheConfig struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MaxEntries    int
}

// RateLimitConfig throttles the usage trigger per tenant. Redis settings
// fall back to REDIS_ADDR and REDIS_PASSWORD.
type RateLimitConfig struct {
	Enabled        bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	TenantRate     float64
	TenantBurst    int
	UnitLockTTLSec int
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

const (
	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "tenantbilling"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBRunMigrations:   getenvBool("DATABASE_RUN_MIGRATIONS", true),

		Cache: CacheConfig{
			Driver:        normalizeCacheDriver(getenv("CACHE_DRIVER", CacheDriverMemory)),
			RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("REDIS_DB", 0),
			MaxEntries:    getenvInt("CACHE_MAX_ENTRIES", 10_000),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:      strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", getenv("REDIS_ADDR", "localhost:6379"))),
			RedisPassword:  getenv("RATE_LIMIT_REDIS_PASSWORD", getenv("REDIS_PASSWORD", "")),
			RedisDB:        getenvInt("RATE_LIMIT_REDIS_DB", 0),
			TenantRate:     getenvFloat("RATE_LIMIT_USAGE_TENANT_RATE", 5),
			TenantBurst:    getenvInt("RATE_LIMIT_USAGE_TENANT_BURST", 20),
			UnitLockTTLSec: getenvInt("RATE_LIMIT_USAGE_LOCK_TTL_SECONDS", 30),
		},
		PaymentProvider: strings.ToLower(getenv("PAYMENT_PROVIDER", "stripe")),
		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			SuccessURL:    strings.TrimSpace(getenv("CHECKOUT_SUCCESS_URL", "http://localhost:8080/api/tenants/{TENANT_ID}/checkout/success?session_id={CHECKOUT_SESSION_ID}")),
			CancelURL:     strings.TrimSpace(getenv("CHECKOUT_CANCEL_URL", "http://localhost:8080/pricing")),
		},

		CatalogFile: strings.TrimSpace(getenv("CATALOG_FILE", "")),
		NodeID:      getenvInt64("SNOWFLAKE_NODE", 1),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeCacheDriver(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case CacheDriverRedis:
		return CacheDriverRedis
	default:
		return CacheDriverMemory
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
