// Package config loads the control-plane configuration from YAML.
package config

import (
	"fmt"
	"os"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds the control-plane configuration.
type Config struct {
	// MasterSecret derives the AES key for everything encrypted at rest.
	// Falls back to the ATLAS_MASTER_SECRET environment variable.
	MasterSecret string `mapstructure:"master_secret" yaml:"master_secret"`

	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	SSH      SSHConfig      `mapstructure:"ssh" yaml:"ssh"`
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Deploy   DeployConfig   `mapstructure:"deploy" yaml:"deploy"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// DatabaseURL is the postgres connection string. Falls back to the
	// ATLAS_DATABASE_URL environment variable.
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

// SSHConfig configures the remote executor.
type SSHConfig struct {
	// PrivateKeyPath points at the PEM key used for all managed hosts.
	PrivateKeyPath string `mapstructure:"private_key_path" yaml:"private_key_path"`
}

// RegistryConfig configures image reference construction.
type RegistryConfig struct {
	// Host is the registry images are pulled from.
	Host string `mapstructure:"host" yaml:"host"`
}

// WorkerConfig sizes the background pool.
type WorkerConfig struct {
	Workers   int `mapstructure:"workers" yaml:"workers"`
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// DeployConfig tunes the deploy pipeline.
type DeployConfig struct {
	// StrictMigrations fails a deploy when the migration job cannot be
	// applied instead of logging and proceeding.
	StrictMigrations bool `mapstructure:"strict_migrations" yaml:"strict_migrations"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
}

// ApplyDefaults fills unset fields, consulting the environment for secrets.
func (c *Config) ApplyDefaults() {
	if c.MasterSecret == "" {
		c.MasterSecret = os.Getenv("ATLAS_MASTER_SECRET")
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreMemory
	}
	if c.Store.DatabaseURL == "" {
		c.Store.DatabaseURL = os.Getenv("ATLAS_DATABASE_URL")
	}
	if c.Registry.Host == "" {
		c.Registry.Host = "ghcr.io"
	}
	if c.Worker.Workers == 0 {
		c.Worker.Workers = 4
	}
	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = 64
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the configuration for contradictions and missing
// requirements.
func (c *Config) Validate() error {
	if c.MasterSecret == "" {
		return fmt.Errorf("master_secret is required (or set ATLAS_MASTER_SECRET)")
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.SSH.PrivateKeyPath == "" {
		return fmt.Errorf("ssh.private_key_path is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if c.Worker.Workers < 0 || c.Worker.QueueSize < 0 {
		return fmt.Errorf("worker sizes cannot be negative")
	}
	return nil
}
