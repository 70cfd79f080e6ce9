// Command migrate drives golang-migrate against the journal's optional
// Postgres mirror (internal/journal.MigrationRunner). The sqlite leg of the
// mirror is never migrated through this tool — it is schema-managed via
// gorm's AutoMigrate at statecraftd boot (see journal.AutoMigrateSQLite) —
// so every command here assumes a Postgres DATABASE_URL and fails fast
// otherwise.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"statecraft/internal/journal"

	"github.com/joho/godotenv"
)

// commands maps each CLI verb to its handler. A handler receives the
// mirror config plus any arguments after the verb itself.
var commands = map[string]func(*journal.MirrorConfig, []string){
	"up":       func(cfg *journal.MirrorConfig, _ []string) { withRunner(cfg, applyUp) },
	"down":     func(cfg *journal.MirrorConfig, _ []string) { withRunner(cfg, applyDown) },
	"down-all": func(cfg *journal.MirrorConfig, _ []string) { withRunner(cfg, applyDownAll) },
	"version":  func(cfg *journal.MirrorConfig, _ []string) { withRunner(cfg, printVersion) },
	"to":       runToVersion,
	"force":    runForceVersion,
	"create":   runCreateMigration,
}

func main() {
	loadDotenvFromAnyParent()

	if len(os.Args) < 2 || os.Args[1] == "help" {
		printUsage()
		os.Exit(boolToExit(len(os.Args) < 2))
	}

	verb := os.Args[1]
	handler, ok := commands[verb]
	if !ok {
		log.Printf("unknown command: %s", verb)
		printUsage()
		os.Exit(1)
	}

	cfg := &journal.MirrorConfig{
		DatabaseURL:    resolveDatabaseURL(),
		DatabaseType:   "postgres",
		MigrationsPath: resolveMigrationsPath(),
	}
	log.Printf("journal mirror: postgres, migrations at %s", cfg.MigrationsPath)

	handler(cfg, os.Args[2:])
}

func boolToExit(fail bool) int {
	if fail {
		return 1
	}
	return 0
}

// loadDotenvFromAnyParent walks up two levels looking for a .env, matching
// this binary being invoked from the repo root or from cmd/migrate during
// local development.
func loadDotenvFromAnyParent() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
	log.Println("no .env file found, using environment variables as-is")
}

func printUsage() {
	fmt.Print(`
statecraft journal mirror migration tool

Usage:
  migrate <command> [arguments]

Commands:
  up              Apply all pending migrations
  down            Rollback the last migration
  down-all        Rollback all migrations (WARNING: deletes all data!)
  version         Show current migration version
  to <N>          Migrate to specific version N
  force <N>       Force version to N (use to fix dirty state)
  create <name>   Create new migration files
  help            Show this help message

Environment Variables:
  DATABASE_URL    Postgres connection URL (when unset, built from the DB_* variables)
  DB_HOST         Database host (default: localhost)
  DB_PORT         Database port (default: 5432)
  DB_USER         Database user (default: postgres)
  DB_PASSWORD     Database password
  DB_NAME         Database name (default: statecraft)
  DB_SSL_MODE     SSL mode (default: disable)
  MIGRATIONS_PATH Override the discovered migrations directory

The sqlite leg of the journal mirror is never migrated through this tool;
it is auto-migrated at statecraftd boot instead.
`)
}

// resolveDatabaseURL prefers DATABASE_URL verbatim, falling back to
// assembling a postgres DSN from the discrete DB_* variables. The URL's
// scheme is not checked here; a non-postgres URL fails when the runner
// opens its connection.
func resolveDatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "password"),
		getEnv("DB_HOST", "localhost"),
		getEnvInt("DB_PORT", 5432),
		getEnv("DB_NAME", "statecraft"),
		getEnv("DB_SSL_MODE", "disable"),
	)
}

// resolveMigrationsPath looks next to the binary, then next to the working
// directory, before falling back to "./migrations".
func resolveMigrationsPath() string {
	if path := os.Getenv("MIGRATIONS_PATH"); path != "" {
		return path
	}

	var candidates []string
	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		candidates = append(candidates,
			filepath.Join(execDir, "migrations"),
			filepath.Join(execDir, "..", "migrations"),
		)
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates,
			filepath.Join(cwd, "migrations"),
			filepath.Join(cwd, "..", "migrations"),
		)
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "./migrations"
}

// withRunner opens a MigrationRunner, runs fn, and closes the runner when fn
// returns. The deferred Close does not run when fn exits the process via
// log.Fatalf (os.Exit skips deferred calls), which every fn below does on
// error.
func withRunner(cfg *journal.MirrorConfig, fn func(*journal.MigrationRunner)) {
	runner, err := journal.NewMigrationRunner(cfg)
	if err != nil {
		log.Fatalf("open migration runner: %v", err)
	}
	defer runner.Close()
	fn(runner)
}

func applyUp(runner *journal.MigrationRunner) {
	log.Println("applying all pending migrations...")
	if err := runner.RunMigrations(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("all migrations applied")
}

func applyDown(runner *journal.MigrationRunner) {
	log.Println("rolling back last migration...")
	if err := runner.RollbackMigration(); err != nil {
		log.Fatalf("rollback failed: %v", err)
	}
	log.Println("rollback complete")
}

func applyDownAll(runner *journal.MigrationRunner) {
	log.Println("WARNING: this rolls back every migration and drops the mirror's data")
	log.Println("press Ctrl+C within 5 seconds to cancel...")
	time.Sleep(5 * time.Second)

	if err := runner.RollbackAll(); err != nil {
		log.Fatalf("rollback all failed: %v", err)
	}
	log.Println("all migrations rolled back")
}

func printVersion(runner *journal.MigrationRunner) {
	status, err := runner.GetVersion()
	if err != nil {
		log.Fatalf("get version: %v", err)
	}

	fmt.Printf("version: %d\ndirty:   %v\napplied: %v\n", status.Version, status.Dirty, status.Applied)
	if status.Dirty {
		fmt.Printf("\ndatabase is dirty — a migration failed halfway.\nrun 'migrate force %d' then retry.\n", status.Version-1)
	}
}

func runToVersion(cfg *journal.MirrorConfig, args []string) {
	if len(args) < 1 {
		log.Fatal("usage: migrate to <version>")
	}
	version, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		log.Fatalf("invalid version %q: %v", args[0], err)
	}
	withRunner(cfg, func(runner *journal.MigrationRunner) {
		log.Printf("migrating to version %d...", version)
		if err := runner.MigrateToVersion(uint(version)); err != nil {
			log.Fatalf("migrate to %d failed: %v", version, err)
		}
		log.Printf("now at version %d", version)
	})
}

func runForceVersion(cfg *journal.MirrorConfig, args []string) {
	if len(args) < 1 {
		log.Fatal("usage: migrate force <version>")
	}
	version, err := strconv.Atoi(args[0])
	if err != nil {
		log.Fatalf("invalid version %q: %v", args[0], err)
	}
	withRunner(cfg, func(runner *journal.MigrationRunner) {
		log.Println("WARNING: force does not run any migration, it only rewrites the version marker")
		if err := runner.Force(version); err != nil {
			log.Fatalf("force failed: %v", err)
		}
		log.Printf("version forced to %d", version)
	})
}

// runCreateMigration needs no database connection — it only writes the two
// scaffold files onto disk — so it bypasses withRunner entirely.
func runCreateMigration(cfg *journal.MirrorConfig, args []string) {
	if len(args) < 1 {
		log.Fatal("usage: migrate create <name>")
	}
	name := sanitizeMigrationName(args[0])

	nextVersion := nextMigrationVersion(cfg.MigrationsPath)
	prefix := fmt.Sprintf("%06d_%s", nextVersion, name)
	upFile := filepath.Join(cfg.MigrationsPath, prefix+".up.sql")
	downFile := filepath.Join(cfg.MigrationsPath, prefix+".down.sql")

	stamp := time.Now().Format(time.RFC3339)
	if err := os.WriteFile(upFile, []byte(fmt.Sprintf("-- %s (up), created %s\n", name, stamp)), 0o644); err != nil {
		log.Fatalf("write up migration: %v", err)
	}
	if err := os.WriteFile(downFile, []byte(fmt.Sprintf("-- %s (down), created %s\n", name, stamp)), 0o644); err != nil {
		log.Fatalf("write down migration: %v", err)
	}

	fmt.Printf("created:\n  %s\n  %s\n", upFile, downFile)
}

func sanitizeMigrationName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}

func nextMigrationVersion(migrationsPath string) int {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		log.Fatalf("read migrations directory: %v", err)
	}
	max := 0
	for _, entry := range entries {
		if entry.IsDir() || len(entry.Name()) < 6 {
			continue
		}
		if v, err := strconv.Atoi(entry.Name()[:6]); err == nil && v > max {
			max = v
		}
	}
	return max + 1
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
