// Package config provides configuration management for maestro.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

const (
	// DefaultWorkerPort is the port the orchestration worker listens on.
	DefaultWorkerPort = 37800

	// DefaultDBDriver selects the embedded database when nothing is configured.
	DefaultDBDriver = "sqlite"

	// DefaultTokenCeiling is the monthly token allowance for users without
	// stored quota state.
	DefaultTokenCeiling = 1_000_000

	// DefaultCostCeilingUSD is the monthly spend allowance in USD.
	DefaultCostCeilingUSD = 50.0
)

// Config holds all runtime configuration for the orchestration service.
type Config struct {
	WorkerPort int    `json:"MAESTRO_WORKER_PORT"`
	LogLevel   string `json:"MAESTRO_LOG_LEVEL"`

	DBDriver string `json:"MAESTRO_DB_DRIVER"` // sqlite or postgres
	DBPath   string `json:"MAESTRO_DB_PATH"`   // sqlite only
	DBDSN    string `json:"MAESTRO_DB_DSN"`    // postgres only
	MaxConns int    `json:"MAESTRO_MAX_CONNS"`

	// RedisAddr enables the Redis quota store when set (host:port).
	// Empty means quota state lives in the primary database.
	RedisAddr string `json:"MAESTRO_REDIS_ADDR"`

	// ToolRegistryPath points at the YAML tool registry. The worker watches
	// this file and hot-reloads it on change.
	ToolRegistryPath string `json:"MAESTRO_TOOL_REGISTRY"`

	QuotaTokenCeiling  int64   `json:"MAESTRO_QUOTA_TOKEN_CEILING"`
	QuotaCostCeiling   float64 `json:"MAESTRO_QUOTA_COST_CEILING"`
	QuotaAllowOverage  bool    `json:"MAESTRO_QUOTA_ALLOW_OVERAGE"`
	TelemetryRetention int     `json:"MAESTRO_TELEMETRY_RETENTION_DAYS"`
}

var (
	global   *Config
	globalMu sync.Mutex
)

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		WorkerPort:         DefaultWorkerPort,
		LogLevel:           "info",
		DBDriver:           DefaultDBDriver,
		DBPath:             DBPath(),
		MaxConns:           4,
		ToolRegistryPath:   RegistryPath(),
		QuotaTokenCeiling:  DefaultTokenCeiling,
		QuotaCostCeiling:   DefaultCostCeilingUSD,
		QuotaAllowOverage:  false,
		TelemetryRetention: 90,
	}
}

// DataDir returns the maestro data directory (~/.maestro).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".maestro")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "maestro.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// RegistryPath returns the default tool registry path.
func RegistryPath() string {
	return filepath.Join(DataDir(), "tools.yaml")
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// EnsureAll creates the data directory and default settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads settings.json and applies environment overrides on top of
// defaults. A missing or malformed settings file yields defaults.
func Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(SettingsPath()); err == nil {
		// Malformed settings are ignored rather than fatal; the worker
		// must come up even if someone hand-edited the file badly.
		_ = json.Unmarshal(data, cfg)
	}

	applyEnv(cfg)
	return cfg, nil
}

// Get returns the cached global config, loading it on first use.
func Get() *Config {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global, _ = Load()
	}
	return global
}

// Reset clears the cached config. Used by tests.
func Reset() {
	globalMu.Lock()
	global = nil
	globalMu.Unlock()
}

// GetWorkerPort returns the worker port, preferring the environment
// variable over the settings file.
func GetWorkerPort() int {
	if v := os.Getenv("MAESTRO_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return Get().WorkerPort
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MAESTRO_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.WorkerPort = port
		}
	}
	if v := os.Getenv("MAESTRO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MAESTRO_DB_DRIVER"); v != "" {
		cfg.DBDriver = strings.ToLower(v)
	}
	if v := os.Getenv("MAESTRO_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MAESTRO_DB_DSN"); v != "" {
		cfg.DBDSN = v
	}
	if v := os.Getenv("MAESTRO_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("MAESTRO_TOOL_REGISTRY"); v != "" {
		cfg.ToolRegistryPath = v
	}
	if v := os.Getenv("MAESTRO_QUOTA_TOKEN_CEILING"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.QuotaTokenCeiling = n
		}
	}
	if v := os.Getenv("MAESTRO_QUOTA_COST_CEILING"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.QuotaCostCeiling = f
		}
	}
	if v := os.Getenv("MAESTRO_QUOTA_ALLOW_OVERAGE"); v != "" {
		cfg.QuotaAllowOverage = v == "true" || v == "1"
	}
}
