package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/git-pkgs/wheelodex/internal/lock"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wheelodex.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfig, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("got %+v, want defaults", cfg)
	}
	if cfg.MaxOrphanAge != 48*time.Hour || !cfg.Scan.ContinueOnError {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
database:
  driver: postgres
  dsn: postgres://localhost/wheelodex
max_orphan_age: 12h
max_wheel_size: 1048576
retry:
  max_elapsed: 30s
scan:
  concurrency: 4
  continue_on_error: false
inspector:
  command: [python, -m, wheel_inspect]
human_readable: true
`)
	t.Setenv(EnvConfig, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://localhost/wheelodex" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.MaxOrphanAge != 12*time.Hour {
		t.Errorf("MaxOrphanAge = %v", cfg.MaxOrphanAge)
	}
	if cfg.MaxWheelSize != 1<<20 {
		t.Errorf("MaxWheelSize = %d", cfg.MaxWheelSize)
	}
	if cfg.Retry.MaxElapsed != 30*time.Second || cfg.Retry.InitialInterval != time.Second {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Scan.Concurrency != 4 || cfg.Scan.ContinueOnError {
		t.Errorf("scan = %+v", cfg.Scan)
	}
	if strings.Join(cfg.Inspector.Command, " ") != "python -m wheel_inspect" {
		t.Errorf("inspector = %v", cfg.Inspector.Command)
	}
	if !cfg.HumanReadable {
		t.Error("HumanReadable not set")
	}
	// Unset keys keep their defaults.
	if cfg.PyPI.BaseURL != Default().PyPI.BaseURL {
		t.Errorf("BaseURL = %q", cfg.PyPI.BaseURL)
	}
}

func TestLoadPathFromEnv(t *testing.T) {
	path := writeFile(t, "stats_log_dir: /var/log/wheelodex\n")
	t.Setenv(EnvConfig, path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StatsLogDir != "/var/log/wheelodex" {
		t.Errorf("StatsLogDir = %q", cfg.StatsLogDir)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "database:\n  dsn: file:from-file.db\nlog_level: warn\n")
	t.Setenv(EnvConfig, "")
	t.Setenv("WHEELODEX_DATABASE_DSN", "file:from-env.db")
	t.Setenv("WHEELODEX_MAX_ORPHAN_AGE", "1h")
	t.Setenv("WHEELODEX_MAX_WHEEL_SIZE", "500")
	t.Setenv("WHEELODEX_SCAN_CONTINUE_ON_ERROR", "no")
	t.Setenv("WHEELODEX_INSPECTOR_COMMAND", "wheel2json --strict")
	t.Setenv("WHEELODEX_REDIS_URL", "redis://localhost:6379/1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "file:from-env.db" {
		t.Errorf("DSN = %q", cfg.Database.DSN)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.MaxOrphanAge != time.Hour || cfg.MaxWheelSize != 500 {
		t.Errorf("got age %v size %d", cfg.MaxOrphanAge, cfg.MaxWheelSize)
	}
	if cfg.Scan.ContinueOnError {
		t.Error("ContinueOnError should be false")
	}
	if len(cfg.Inspector.Command) != 2 {
		t.Errorf("Command = %v", cfg.Inspector.Command)
	}
	if cfg.Redis.URL != "redis://localhost:6379/1" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvConfig, "")

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "database: [\n")); err == nil {
		t.Error("expected error for bad yaml")
	}

	t.Setenv("WHEELODEX_MAX_ORPHAN_AGE", "soon")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "WHEELODEX_MAX_ORPHAN_AGE") {
		t.Errorf("got %v, want duration error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"wheel size", func(c *Config) { c.MaxWheelSize = -1 }, "max_wheel_size"},
		{"orphan age", func(c *Config) { c.MaxOrphanAge = 0 }, "max_orphan_age"},
		{"retry", func(c *Config) { c.Retry.MaxInterval = 0 }, "retry"},
		{"concurrency", func(c *Config) { c.Scan.Concurrency = 0 }, "scan.concurrency"},
		{"lock ttl", func(c *Config) { c.Redis.LockTTL = -time.Second }, "redis.lock_ttl"},
		{"inspector", func(c *Config) { c.Inspector.Command = nil }, "inspector.command"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	p := cfg.Retry.Policy()
	if p.InitialInterval != time.Second || p.MaxInterval != 10*time.Second || p.MaxElapsedTime != 5*time.Minute {
		t.Errorf("policy = %+v", p)
	}
	ic := cfg.Database.Inventory()
	if ic.Driver != cfg.Database.Driver || ic.DSN != cfg.Database.DSN {
		t.Errorf("inventory config = %+v", ic)
	}

	l, closeFn, err := cfg.Redis.Locker()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(lock.Noop); !ok {
		t.Errorf("got %T, want lock.Noop", l)
	}
	if err := closeFn(); err != nil {
		t.Error(err)
	}

	cfg.Redis.URL = "redis://localhost:6379/0"
	l, closeFn, err = cfg.Redis.Locker()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = closeFn() }()
	if _, ok := l.(*lock.RedisLocker); !ok {
		t.Errorf("got %T, want *lock.RedisLocker", l)
	}
}
