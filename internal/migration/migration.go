package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/tenantbilling/internal/checkout/domain"
	creditdomain "github.com/smallbiznis/tenantbilling/internal/credit/domain"
	subscriptiondomain "github.com/smallbiznis/tenantbilling/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/tenantbilling/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/tenantbilling/internal/usage/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}

// Models lists every persisted table in dependency order.
func Models() []any {
	return []any{
		&catalogdomain.Product{},
		&catalogdomain.FlatPrice{},
		&catalogdomain.UsageBasedPrice{},
		&catalogdomain.Tier{},
		&catalogdomain.Feature{},
		&subscriptiondomain.TenantSubscription{},
		&subscriptiondomain.TenantSubscriptionProduct{},
		&subscriptiondomain.TenantSubscriptionProductPrice{},
		&checkoutdomain.CheckoutSessionStatus{},
		&usagedomain.UsageRecord{},
		&creditdomain.Credit{},
		&tenantdomain.TenantUser{},
	}
}

// AutoMigrate creates the schema from the gorm models. It backs the
// sqlite and mysql dialects, which the embedded SQL does not target.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	return db.AutoMigrate(Models()...)
}
