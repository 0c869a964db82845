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
	auditdomain "github.com/smallbiznis/loop/internal/audit/domain"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
	ledgerdomain "github.com/smallbiznis/loop/internal/ledger/domain"
	redemptiondomain "github.com/smallbiznis/loop/internal/redemption/domain"
	rewarddomain "github.com/smallbiznis/loop/internal/reward/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const approvedRedemptionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_reward_redemptions_approved
	ON reward_redemptions (merchant_id, customer_id, reward_id)
	WHERE status = 'approved'`

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
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the gorm models. It serves sqlite and
// mysql deployments and tests, where the postgres SQL files do not apply.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&eventdomain.Event{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.Membership{},
		&rewarddomain.Reward{},
		&redemptiondomain.Redemption{},
		&auditdomain.AuditLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if db.Dialector.Name() == "mysql" {
		// mysql has no partial indexes. The redemption pre-check runs under the
		// membership row lock, which serializes it per customer.
		return nil
	}
	if err := db.Exec(approvedRedemptionIndex).Error; err != nil {
		return fmt.Errorf("create approved redemption index: %w", err)
	}
	return nil
}
