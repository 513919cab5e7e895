// Package config provides environment-aware configuration for the sync
// engine, including the Persistence Policy (component N).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Mode is the user-selectable persistence mode gating B+J+K+L.
type Mode string

const (
	ModeLocalOnly Mode = "local-only"
	ModeCloudSync Mode = "cloud-sync"
	ModeHybrid    Mode = "hybrid"
)

// ParseMode validates a raw mode string.
func ParseMode(raw string) (Mode, bool) {
	switch Mode(raw) {
	case ModeLocalOnly, ModeCloudSync, ModeHybrid:
		return Mode(raw), true
	default:
		return "", false
	}
}

// OutboxActive reports whether the Outbox/Sync Manager/Hydration/Realtime
// quartet (B, J, K, L) should run under this mode.
func (m Mode) OutboxActive() bool { return m != ModeLocalOnly }

// LocalAuthoritative reports whether the Local Store (A) remains the
// primary source of truth (true for local-only and hybrid).
func (m Mode) LocalAuthoritative() bool { return m != ModeCloudSync }

// PersistencePolicy is the settings object described in §3/§4.N: a single
// global setting plus the intervals that drive the Sync Manager and the
// hybrid-mode backup scheduler.
type PersistencePolicy struct {
	Mode               Mode
	SyncInterval       time.Duration
	BackupInterval     time.Duration
	CloudBackupEnabled bool
	LastSyncAt         time.Time
	LastBackupAt       time.Time
}

// DefaultPersistencePolicy mirrors the defaults used throughout §4 (5s sync
// tick) with a conservative hourly backup cadence for hybrid mode.
func DefaultPersistencePolicy() PersistencePolicy {
	return PersistencePolicy{
		Mode:               ModeCloudSync,
		SyncInterval:       5 * time.Second,
		BackupInterval:     time.Hour,
		CloudBackupEnabled: true,
	}
}

// Config holds process-level configuration for the cmd/ entry points. The
// engine itself is constructed directly from typed options (see
// internal/syncengine) — most callers never read an env var.
type Config struct {
	Env Environment

	RowStoreURL string
	RowStoreKey string

	LogLevel  string
	LogFormat string

	Policy PersistencePolicy

	// LocalQuotaBytes is read from SYNCENGINE_LOCAL_QUOTA_BYTES; 0 means
	// unlimited. Nothing in this module passes it on to the Local Store,
	// whose own quota counts live records rather than bytes.
	LocalQuotaBytes int

	// EncryptionMasterKeyHex is read from SYNCENGINE_MASTER_KEY. Nothing in
	// this module passes it to the E2EE Key Manager, which derives its KEK
	// from a passphrase only.
	EncryptionMasterKeyHex string
}

// Environment distinguishes development/testing/production for logging and
// validation defaults only — it has no bearing on sync semantics.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Load builds a Config from the process environment, optionally loading a
// local .env file first (development convenience only).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	env := Environment(GetEnv("SYNCENGINE_ENV", string(Development)))

	mode, ok := ParseMode(GetEnv("SYNCENGINE_PERSISTENCE_MODE", string(ModeCloudSync)))
	if !ok {
		return nil, fmt.Errorf("invalid SYNCENGINE_PERSISTENCE_MODE")
	}

	syncInterval, err := ParseEnvDuration("SYNCENGINE_SYNC_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	backupInterval, err := ParseEnvDuration("SYNCENGINE_BACKUP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:         env,
		RowStoreURL: GetEnv("SYNCENGINE_ROWSTORE_URL", ""),
		RowStoreKey: GetEnv("SYNCENGINE_ROWSTORE_KEY", ""),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		LogFormat:   GetEnv("LOG_FORMAT", "json"),
		Policy: PersistencePolicy{
			Mode:               mode,
			SyncInterval:       syncInterval,
			BackupInterval:     backupInterval,
			CloudBackupEnabled: GetEnvBool("SYNCENGINE_CLOUD_BACKUP_ENABLED", true),
		},
		LocalQuotaBytes:        GetEnvInt("SYNCENGINE_LOCAL_QUOTA_BYTES", 0),
		EncryptionMasterKeyHex: GetEnv("SYNCENGINE_MASTER_KEY", ""),
	}

	return cfg, nil
}

// IsDevelopment reports whether Env is Development.
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsProduction reports whether Env is Production.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Helper functions, in the manner of infrastructure/config/loader.go.
// Exported so other packages' cmd/ entry points can read their own
// env vars the same way Load does.

// GetEnv returns the named env var, or defaultValue if it is unset or empty.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvBool parses the named env var as a bool, falling back to
// defaultValue if it is unset or unparseable.
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := parseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvInt parses the named env var as an int, falling back to
// defaultValue if it is unset or unparseable.
func GetEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func parseBool(value string) (bool, error) {
	switch value {
	case "1", "true", "TRUE", "True", "yes":
		return true, nil
	case "0", "false", "FALSE", "False", "no", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", value)
	}
}

// ParseEnvDuration parses the named env var as a time.Duration,
// returning defaultValue if it is unset.
func ParseEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
