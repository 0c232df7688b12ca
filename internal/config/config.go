package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"scheduleguard/internal/schedule"
)

const DefaultPath = "configs/config.yaml"

type Config struct {
	App struct {
		Name string `yaml:"name"`
		Env  string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	HTTP struct {
		Port                int      `yaml:"port"`
		APIKeys             []string `yaml:"api_keys"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	} `yaml:"http"`

	GRPC struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"grpc"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Marketplace struct {
		BaseURL        string  `yaml:"base_url"`
		APIKey         string  `yaml:"api_key"`
		Token          string  `yaml:"token"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RatePerSecond  float64 `yaml:"rate_per_second"`
		Burst          int     `yaml:"burst"`
	} `yaml:"marketplace"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	History struct {
		Path   string `yaml:"path"`
		Backup struct {
			Enabled       bool   `yaml:"enabled"`
			IntervalHours int    `yaml:"interval_hours"`
			Path          string `yaml:"path"`
			RetentionDays int    `yaml:"retention_days"`
		} `yaml:"backup"`
	} `yaml:"history"`

	Sessions struct {
		TimeoutMinutes         int `yaml:"timeout_minutes"`
		CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"`
	} `yaml:"sessions"`

	Conflicts struct {
		OnFetchError  string `yaml:"on_fetch_error"`
		PriorityScope string `yaml:"priority_scope"`
	} `yaml:"conflicts"`

	// Defaults is the weekly schedule offered to orders that have none yet.
	Defaults *schedule.WeeklySchedule `yaml:"defaults"`
}

// Load reads the YAML config at path. A .env file in the working directory,
// when present, is loaded first so ${VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// an unset ${VAR} leaves an empty key behind
	cfg.HTTP.APIKeys = slices.DeleteFunc(cfg.HTTP.APIKeys, func(k string) bool {
		return strings.TrimSpace(k) == ""
	})

	if cfg.History.Path == "" {
		cfg.History.Path = "data/scheduleguard.db"
	}
	if err = os.MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
		return nil, err
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that have no sensible default.
func (c *Config) Validate() error {
	var errs []error
	if c.Marketplace.BaseURL == "" {
		errs = append(errs, errors.New("marketplace.base_url is required"))
	}
	switch c.Conflicts.OnFetchError {
	case "", "allow", "block":
	default:
		errs = append(errs, fmt.Errorf("conflicts.on_fetch_error: unknown value %q", c.Conflicts.OnFetchError))
	}
	switch c.Conflicts.PriorityScope {
	case "", "date", "weekday":
	default:
		errs = append(errs, fmt.Errorf("conflicts.priority_scope: unknown value %q", c.Conflicts.PriorityScope))
	}
	if c.Defaults != nil {
		if err := c.Defaults.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("defaults: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c *Config) HTTPPort() int {
	if c.HTTP.Port <= 0 {
		return 8080
	}
	return c.HTTP.Port
}

func (c *Config) HTTPReadTimeout() time.Duration {
	if c.HTTP.ReadTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.HTTP.ReadTimeoutSeconds) * time.Second
}

func (c *Config) HTTPWriteTimeout() time.Duration {
	if c.HTTP.WriteTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.HTTP.WriteTimeoutSeconds) * time.Second
}

func (c *Config) GRPCPort() int {
	if c.GRPC.Port <= 0 {
		return 9091
	}
	return c.GRPC.Port
}

func (c *Config) HealthCheckPort() int {
	if c.Monitoring.HealthCheckPort <= 0 {
		return 8090
	}
	return c.Monitoring.HealthCheckPort
}

func (c *Config) PrometheusPort() int {
	if c.Monitoring.PrometheusPort <= 0 {
		return 9090
	}
	return c.Monitoring.PrometheusPort
}

func (c *Config) MarketplaceTimeout() time.Duration {
	if c.Marketplace.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Marketplace.TimeoutSeconds) * time.Second
}

func (c *Config) SessionTimeout() time.Duration {
	if c.Sessions.TimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Sessions.TimeoutMinutes) * time.Minute
}

func (c *Config) SessionCleanupInterval() time.Duration {
	if c.Sessions.CleanupIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Sessions.CleanupIntervalSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.History.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.History.Backup.IntervalHours) * time.Hour
}

func (c *Config) BackupPath() string {
	if c.History.Backup.Path == "" {
		return filepath.Join(filepath.Dir(c.History.Path), "backups")
	}
	return c.History.Backup.Path
}

// DefaultSchedule returns a copy of the configured default schedule, or the
// built-in one when none is configured.
func (c *Config) DefaultSchedule() *schedule.WeeklySchedule {
	if c.Defaults == nil {
		return schedule.DefaultWeeklySchedule()
	}
	return c.Defaults.Clone()
}
