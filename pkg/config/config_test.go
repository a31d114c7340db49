package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfig writes yamlContent to a temp config.yaml and returns its path.
func writeConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	configPath := writeConfig(t, `
port: "3480"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
index:
  path: "/var/lib/rules-index"
  batch_size: 250
registration:
  catalog_dir: "/etc/rules"
`)

	os.Unsetenv("PGHOST")
	os.Unsetenv("INDEX_BATCH_SIZE")

	t.Setenv("PORT", "4480")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("REGISTRATION_COMMIT_BATCH_SIZE", "50")

	cfg, err := LoadFile(configPath, "test-version")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Port != "4480" {
		t.Errorf("expected Port=4480 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.Registration.CommitBatchSize != 50 {
		t.Errorf("expected CommitBatchSize=50 (from env), got %d", cfg.Registration.CommitBatchSize)
	}

	// YAML values are used where no env var is set
	if cfg.Index.BatchSize != 250 {
		t.Errorf("expected Index.BatchSize=250 (from yaml), got %d", cfg.Index.BatchSize)
	}
	if cfg.Registration.CatalogDir != "/etc/rules" {
		t.Errorf("expected CatalogDir=/etc/rules (from yaml), got %s", cfg.Registration.CatalogDir)
	}
	if !IsRunningInDocker() && cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `env: "test"`)

	cfg, err := LoadFile(configPath, "dev")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Index.BatchSize != 500 {
		t.Errorf("expected default Index.BatchSize=500, got %d", cfg.Index.BatchSize)
	}
	if cfg.Registration.CommitBatchSize != 100 {
		t.Errorf("expected default CommitBatchSize=100, got %d", cfg.Registration.CommitBatchSize)
	}
	if cfg.Registration.LockTTL() != 10*time.Minute {
		t.Errorf("expected default LockTTL=10m, got %s", cfg.Registration.LockTTL())
	}
	if cfg.Index.GCInterval() != 5*time.Minute {
		t.Errorf("expected default GCInterval=5m, got %s", cfg.Index.GCInterval())
	}
	if cfg.Redis.Host != "" {
		t.Errorf("expected Redis disabled by default, got host %q", cfg.Redis.Host)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "config.yaml"), "dev")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_RejectsNonPositiveBatchSize(t *testing.T) {
	configPath := writeConfig(t, `
index:
  batch_size: -1
`)

	os.Unsetenv("INDEX_BATCH_SIZE")

	_, err := LoadFile(configPath, "dev")
	if err == nil {
		t.Fatal("expected error for negative index batch size")
	}
}

func TestLoad_InMemoryIndexNeedsNoPath(t *testing.T) {
	configPath := writeConfig(t, `
index:
  in_memory: true
  path: ""
`)

	os.Unsetenv("INDEX_PATH")

	cfg, err := LoadFile(configPath, "dev")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if !cfg.Index.InMemory {
		t.Error("expected in-memory index")
	}
}

func TestDatabaseConfig_URL(t *testing.T) {
	c := DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "rules",
		Password: "secret",
		Database: "ekaya_rules",
		SSLMode:  "disable",
	}

	want := "postgres://rules:secret@db:5433/ekaya_rules?sslmode=disable"
	if got := c.URL(); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}

	wantConn := "host=db port=5433 user=rules password=secret dbname=ekaya_rules sslmode=disable"
	if got := c.ConnectionString(); got != wantConn {
		t.Errorf("ConnectionString() = %q, want %q", got, wantConn)
	}
}

func TestRedisConfig_Addr(t *testing.T) {
	c := RedisConfig{Host: "redis.internal", Port: 6380}
	if got := c.Addr(); got != "redis.internal:6380" {
		t.Errorf("Addr() = %q, want redis.internal:6380", got)
	}
}
