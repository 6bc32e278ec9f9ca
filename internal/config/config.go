// Package config loads wheelodex settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/git-pkgs/wheelodex/client"
	"github.com/git-pkgs/wheelodex/internal/inventory"
	"github.com/git-pkgs/wheelodex/internal/lock"
)

// EnvConfig names the variable holding the config file path.
const EnvConfig = "WHEELODEX_CONFIG"

// Config holds all settings.
type Config struct {
	Database      DatabaseConfig  `yaml:"database"`
	PyPI          PyPIConfig      `yaml:"pypi"`
	MaxOrphanAge  time.Duration   `yaml:"max_orphan_age"`
	MaxWheelSize  int64           `yaml:"max_wheel_size"`
	StatsLogDir   string          `yaml:"stats_log_dir"`
	Retry         RetryConfig     `yaml:"retry"`
	Scan          ScanConfig      `yaml:"scan"`
	Redis         RedisConfig     `yaml:"redis"`
	Inspector     InspectorConfig `yaml:"inspector"`
	LogLevel      string          `yaml:"log_level"`
	HumanReadable bool            `yaml:"human_readable"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type PyPIConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
}

type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
}

type ScanConfig struct {
	Concurrency     int  `yaml:"concurrency"`
	ContinueOnError bool `yaml:"continue_on_error"`
}

// RedisConfig configures the job lock. An empty URL disables locking.
type RedisConfig struct {
	URL     string        `yaml:"url"`
	LockKey string        `yaml:"lock_key"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type InspectorConfig struct {
	Command []string `yaml:"command"`
	Version string   `yaml:"version"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver: inventory.DriverSQLite,
			DSN:    "file:wheelodex.db",
		},
		PyPI: PyPIConfig{
			BaseURL:   client.DefaultBaseURL,
			UserAgent: client.DefaultUserAgent,
		},
		MaxOrphanAge: 48 * time.Hour,
		Retry: RetryConfig{
			InitialInterval: time.Second,
			MaxInterval:     10 * time.Second,
			MaxElapsed:      5 * time.Minute,
		},
		Scan: ScanConfig{
			Concurrency:     1,
			ContinueOnError: true,
		},
		Redis: RedisConfig{
			LockKey: lock.DefaultKey,
			LockTTL: lock.DefaultTTL,
		},
		Inspector: InspectorConfig{
			Command: []string{"wheel2json"},
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides. An empty path falls back to $WHEELODEX_CONFIG; if
// that is also unset only defaults and the environment are used.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	c.Database.Driver = getenv("WHEELODEX_DATABASE_DRIVER", c.Database.Driver)
	c.Database.DSN = getenv("WHEELODEX_DATABASE_DSN", c.Database.DSN)
	c.PyPI.BaseURL = getenv("WHEELODEX_PYPI_BASE_URL", c.PyPI.BaseURL)
	c.PyPI.UserAgent = getenv("WHEELODEX_PYPI_USER_AGENT", c.PyPI.UserAgent)
	c.StatsLogDir = getenv("WHEELODEX_STATS_LOG_DIR", c.StatsLogDir)
	c.Redis.URL = getenv("WHEELODEX_REDIS_URL", c.Redis.URL)
	c.Redis.LockKey = getenv("WHEELODEX_REDIS_LOCK_KEY", c.Redis.LockKey)
	c.LogLevel = getenv("WHEELODEX_LOG_LEVEL", c.LogLevel)
	c.HumanReadable = getenvBool("WHEELODEX_HUMAN_READABLE", c.HumanReadable)
	c.Scan.ContinueOnError = getenvBool("WHEELODEX_SCAN_CONTINUE_ON_ERROR", c.Scan.ContinueOnError)
	c.Scan.Concurrency = getenvInt("WHEELODEX_SCAN_CONCURRENCY", c.Scan.Concurrency)
	if v := os.Getenv("WHEELODEX_INSPECTOR_COMMAND"); v != "" {
		c.Inspector.Command = strings.Fields(v)
	}
	c.Inspector.Version = getenv("WHEELODEX_INSPECTOR_VERSION", c.Inspector.Version)

	dur("WHEELODEX_MAX_ORPHAN_AGE", &c.MaxOrphanAge)
	dur("WHEELODEX_REDIS_LOCK_TTL", &c.Redis.LockTTL)
	dur("WHEELODEX_RETRY_INITIAL_INTERVAL", &c.Retry.InitialInterval)
	dur("WHEELODEX_RETRY_MAX_INTERVAL", &c.Retry.MaxInterval)
	dur("WHEELODEX_RETRY_MAX_ELAPSED", &c.Retry.MaxElapsed)
	num("WHEELODEX_MAX_WHEEL_SIZE", &c.MaxWheelSize)
	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case inventory.DriverPostgres, inventory.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: required"))
	}
	if c.MaxWheelSize < 0 {
		errs = append(errs, errors.New("max_wheel_size: must not be negative"))
	}
	if c.MaxOrphanAge <= 0 {
		errs = append(errs, errors.New("max_orphan_age: must be positive"))
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval <= 0 || c.Retry.MaxElapsed <= 0 {
		errs = append(errs, errors.New("retry: intervals must be positive"))
	}
	if c.Scan.Concurrency < 1 {
		errs = append(errs, errors.New("scan.concurrency: must be at least 1"))
	}
	if c.Redis.LockTTL <= 0 {
		errs = append(errs, errors.New("redis.lock_ttl: must be positive"))
	}
	if len(c.Inspector.Command) == 0 {
		errs = append(errs, errors.New("inspector.command: required"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Inventory returns the storage settings.
func (d DatabaseConfig) Inventory() inventory.Config {
	return inventory.Config{
		Driver:          d.Driver,
		DSN:             d.DSN,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

// Policy returns the retry schedule for remote calls.
func (r RetryConfig) Policy() client.RetryPolicy {
	return client.RetryPolicy{
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		MaxElapsedTime:  r.MaxElapsed,
	}
}

// Locker builds the job lock, or a no-op lock when Redis is not configured.
func (r RedisConfig) Locker() (lock.Locker, func() error, error) {
	if r.URL == "" {
		return lock.Noop{}, func() error { return nil }, nil
	}
	l, err := lock.NewRedisLocker(r.URL, r.LockKey, r.LockTTL)
	if err != nil {
		return nil, nil, err
	}
	return l, l.Close, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		}
	}
	return def
}
