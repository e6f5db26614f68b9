// Package testkit opens throwaway databases and wires the shared
// collaborators used by package tests.
package testkit

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tenantbilling/internal/cache"
	"github.com/smallbiznis/tenantbilling/internal/clock"
	"github.com/smallbiznis/tenantbilling/internal/config"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Epoch is the default instant fake clocks start at.
var Epoch = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

// NewDB opens a private in-memory sqlite database and migrates models.
func NewDB(t testing.TB, models ...any) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	return db
}

func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func NewClock() *clock.FakeClock {
	return clock.NewFakeClock(Epoch)
}

func NewCache(clk clock.Clock) *cache.MemoryCache {
	return cache.NewMemoryCache(0, clk, nil)
}

func NewBilling() *config.BillingConfigHolder {
	return config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
}
