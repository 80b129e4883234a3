package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	idempotencydomain "github.com/smallbiznis/fieldclock/internal/idempotency/domain"
	invoicedomain "github.com/smallbiznis/fieldclock/internal/invoice/domain"
	jobsitedomain "github.com/smallbiznis/fieldclock/internal/jobsite/domain"
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"gorm.io/gorm"
)

// ActiveEntryIndex backs the one-active-entry-per-worker rule.
const ActiveEntryIndex = "ux_time_entries_active_user"

// Models lists every table owned by the engine.
func Models() []any {
	return []any{
		&jobsitedomain.CompanySettings{},
		&jobsitedomain.Job{},
		&jobsitedomain.Assignment{},
		&timeentrydomain.TimeEntry{},
		&idempotencydomain.Record{},
		&auditdomain.AuditLog{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
	}
}

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

// AutoMigrate creates the schema from the gorm models. Used for sqlite and
// mysql, and by tests.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return ensureActiveEntryIndex(conn)
}

// ensureActiveEntryIndex creates the partial unique index where the dialect
// supports partial indexes. MySQL relies on the transactional check.
func ensureActiveEntryIndex(conn *gorm.DB) error {
	switch conn.Dialector.Name() {
	case "sqlite", "postgres":
	default:
		return nil
	}
	return conn.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + ActiveEntryIndex + `
		 ON time_entries (company_id, user_id)
		 WHERE status = 'active'`,
	).Error
}
