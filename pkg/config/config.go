package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-rules.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Logging      LoggingConfig      `yaml:"logging"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Index        IndexConfig        `yaml:"index"`
	Registration RegistrationConfig `yaml:"registration"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	// Development switches to the console encoder with stack traces on warnings.
	Development bool `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_rules"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds Redis configuration used for the registration run lock.
// An empty host disables the distributed lock.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// IndexConfig holds search index (BadgerDB) configuration.
type IndexConfig struct {
	Path       string `yaml:"path" env:"INDEX_PATH" env-default:"data/index"`
	InMemory   bool   `yaml:"in_memory" env:"INDEX_IN_MEMORY" env-default:"false"`
	SyncWrites bool   `yaml:"sync_writes" env:"INDEX_SYNC_WRITES" env-default:"true"`
	// BatchSize bounds the number of documents written per index write.
	BatchSize int `yaml:"batch_size" env:"INDEX_BATCH_SIZE" env-default:"500"`
	// GCIntervalMinutes is how often value log GC runs. 0 disables it.
	GCIntervalMinutes int `yaml:"gc_interval_minutes" env:"INDEX_GC_INTERVAL_MINUTES" env-default:"5"`
}

// GCInterval returns the value log GC interval.
func (c *IndexConfig) GCInterval() time.Duration {
	return time.Duration(c.GCIntervalMinutes) * time.Minute
}

// RegistrationConfig holds rule registration settings.
type RegistrationConfig struct {
	// CatalogDir is the directory holding one YAML file per rule repository.
	CatalogDir string `yaml:"catalog_dir" env:"CATALOG_DIR" env-default:"catalog"`
	// CommitBatchSize is the number of rules written per transaction.
	CommitBatchSize int `yaml:"commit_batch_size" env:"REGISTRATION_COMMIT_BATCH_SIZE" env-default:"100"`
	// LockTTLSeconds is the expiration of the distributed run lock.
	LockTTLSeconds int `yaml:"lock_ttl_seconds" env:"REGISTRATION_LOCK_TTL_SECONDS" env-default:"600"`
	// RunOnStartup registers rules before `serve` starts listening.
	RunOnStartup bool `yaml:"run_on_startup" env:"REGISTRATION_RUN_ON_STARTUP" env-default:"true"`
}

// LockTTL returns the run lock expiration.
func (c *RegistrationConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile reads configuration from the given YAML file with environment variable overrides.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.resolveHosts()

	return cfg, nil
}

// LoadEnv reads configuration from environment variables only.
// Used when no config.yaml is present.
func LoadEnv(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.resolveHosts()

	return cfg, nil
}

// validate checks numeric bounds that cleanenv cannot express.
func (c *Config) validate() error {
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("index.batch_size must be positive, got %d", c.Index.BatchSize)
	}
	if c.Registration.CommitBatchSize <= 0 {
		return fmt.Errorf("registration.commit_batch_size must be positive, got %d", c.Registration.CommitBatchSize)
	}
	if !c.Index.InMemory && c.Index.Path == "" {
		return fmt.Errorf("index.path is required unless index.in_memory is set")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the PostgreSQL connection string in URL form, as required by golang-migrate.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
