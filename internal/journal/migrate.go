package journal

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"gorm.io/gorm"
)

// MirrorConfig configures the SQL journal mirror's migration runner,
// grounded on the teacher's database.MigrationConfig shape.
//
// Only "postgres" is migrated through golang-migrate here; the sqlite path
// (used for local/dev mirrors) is schema-managed through gorm's AutoMigrate
// instead, since golang-migrate's sqlite3 driver is cgo-bound to
// mattn/go-sqlite3 and this repo standardizes on the pure-Go
// modernc.org/sqlite driver for the mirror's runtime connection.
type MirrorConfig struct {
	DatabaseURL    string
	DatabaseType   string // "postgres" (migrated) or "sqlite" (auto-migrated)
	MigrationsPath string
}

// MigrationRunner drives golang-migrate against the journal mirror schema.
// Only constructible for DatabaseType == "postgres"; see AutoMigrateSQLite
// for the sqlite path.
type MigrationRunner struct {
	m  *migrate.Migrate
	db *sql.DB
}

// NewMigrationRunner opens the database and builds a golang-migrate
// instance pointed at MigrationsPath.
func NewMigrationRunner(cfg *MirrorConfig) (*MigrationRunner, error) {
	if cfg.DatabaseType != "postgres" {
		return nil, fmt.Errorf("migration runner only supports postgres; got %q", cfg.DatabaseType)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+cfg.MigrationsPath, cfg.DatabaseType, dbDriver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build migrate instance: %w", err)
	}

	return &MigrationRunner{m: m, db: db}, nil
}

// RunMigrations applies every pending up migration.
func (r *MigrationRunner) RunMigrations() error {
	if err := r.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// RollbackMigration rolls back exactly one migration.
func (r *MigrationRunner) RollbackMigration() error {
	if err := r.m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// RollbackAll rolls back every applied migration.
func (r *MigrationRunner) RollbackAll() error {
	if err := r.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigrateToVersion migrates up or down to the given version.
func (r *MigrationRunner) MigrateToVersion(version uint) error {
	if err := r.m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Force sets the migration version without running any migration, to clear
// a dirty state left by a half-applied migration.
func (r *MigrationRunner) Force(version int) error {
	return r.m.Force(version)
}

// VersionStatus reports the current migration version and dirty flag.
type VersionStatus struct {
	Version uint
	Dirty   bool
	Applied bool
}

// GetVersion reads the current schema version.
func (r *MigrationRunner) GetVersion() (*VersionStatus, error) {
	version, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return &VersionStatus{Applied: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &VersionStatus{Version: version, Dirty: dirty, Applied: true}, nil
}

// Close releases the underlying database connection.
func (r *MigrationRunner) Close() error {
	srcErr, dbErr := r.m.Close()
	if srcErr != nil {
		return srcErr
	}
	if dbErr != nil {
		return dbErr
	}
	return r.db.Close()
}

// AutoMigrateSQLite creates the journal_records table on a sqlite-backed
// gorm.DB without involving golang-migrate, per MirrorConfig's doc comment.
func AutoMigrateSQLite(db *gorm.DB) error {
	return db.AutoMigrate(&journalRow{})
}
