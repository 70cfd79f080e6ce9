// Package config loads the runtime's environment configuration, grounded
// on the teacher's internal/config pattern of explicit SecretRequirement-
// style validation — scaled down here since the core runtime has no JWT
// or payment secrets to validate, only connection strings and toggles.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config holds every environment-derived setting cmd/statecraftd needs to
// wire the runtime's collaborators. Nothing here is secret; there is no
// analogue of the teacher's SecretsConfig because the core exposes no
// auth surface of its own (§1 Explicitly out of scope).
type Config struct {
	Port        string
	Environment string

	// JournalDir is the base directory for the append-only event journal
	// (§4.1's partitioned JSONL files). SnapshotDir is the instance snapshot
	// tree (§6) that ReloadFromDisk reads when ReloadOnBoot is set.
	JournalDir   string
	SnapshotDir  string
	ReloadOnBoot bool

	// RedisURL, when set, backs the tenant broadcast bus with Redis instead
	// of the in-process fan-out fallback.
	RedisURL string

	// CheckpointBackend selects the optional checkpoint capability's
	// storage: "file" (default) or "sql" (requires DatabaseURL).
	CheckpointBackend string
	CheckpointDir     string
	DatabaseURL       string

	MetricsEnabled bool
}

// Load reads Config from the process environment. Every field has a
// development-friendly default so the binary runs standalone with no
// external services configured.
func Load() *Config {
	return &Config{
		Port:              getEnv("PORT", "8080"),
		Environment:       getEnv("ENVIRONMENT", EnvDevelopment),
		JournalDir:        getEnv("JOURNAL_DIR", "./data/journal"),
		SnapshotDir:       getEnv("SNAPSHOT_DIR", "./data/snapshots"),
		ReloadOnBoot:      getEnvBool("RELOAD_ON_BOOT", false),
		RedisURL:          os.Getenv("REDIS_URL"),
		CheckpointBackend: strings.ToLower(getEnv("CHECKPOINT_BACKEND", "file")),
		CheckpointDir:     getEnv("CHECKPOINT_DIR", "./data/checkpoints"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		MetricsEnabled:    getEnvBool("ENABLE_METRICS", true),
	}
}

// IsProduction reports whether Environment names the production tier —
// used to pick gin's release mode and zap's production encoder.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Validate rejects configurations that would fail later in a more
// confusing way — currently only the sql checkpoint backend's dependency
// on DatabaseURL.
func (c *Config) Validate() error {
	if c.CheckpointBackend == "sql" && c.DatabaseURL == "" {
		return fmt.Errorf("CHECKPOINT_BACKEND=sql requires DATABASE_URL to be set")
	}
	if c.CheckpointBackend != "sql" && c.CheckpointBackend != "file" {
		return fmt.Errorf("CHECKPOINT_BACKEND must be %q or %q, got %q", "file", "sql", c.CheckpointBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}
