// Package config loads circulation engine configuration from a YAML file
// with environment variable overrides. Missing file falls back to defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Circulation CirculationConfig `yaml:"circulation"`
	Sweeper     SweeperConfig     `yaml:"sweeper"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// DatabaseConfig configures persistence. An empty URL selects the in-memory
// store.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// CirculationConfig carries the lending policy knobs.
type CirculationConfig struct {
	LoanPeriodDays     int    `yaml:"loan_period_days"`
	ExtensionDays      int    `yaml:"extension_days"`
	MaxExtensions      int    `yaml:"max_extensions"`
	HoldPeriodDays     int    `yaml:"hold_period_days"`
	DailyFineRateCents int64  `yaml:"daily_fine_rate_cents"`
	FinePolicy         string `yaml:"fine_policy"`
	FineGraceDays      int    `yaml:"fine_grace_days"`
	AverageLoanDays    int    `yaml:"average_loan_days"`
}

// SweeperConfig configures the periodic expiry and overdue sweep.
type SweeperConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Circulation: CirculationConfig{
			LoanPeriodDays:     14,
			ExtensionDays:      14,
			MaxExtensions:      2,
			HoldPeriodDays:     7,
			DailyFineRateCents: 50,
			FinePolicy:         "standard",
			FineGraceDays:      2,
			AverageLoanDays:    14,
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "0 * * * *",
		},
	}
}

// Load reads configuration from path, applies environment overrides, and
// validates the result. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Circulation.LoanPeriodDays < 1 {
		return fmt.Errorf("circulation: loan_period_days must be at least 1, got %d", c.Circulation.LoanPeriodDays)
	}
	if c.Circulation.MaxExtensions < 0 {
		return fmt.Errorf("circulation: max_extensions must not be negative, got %d", c.Circulation.MaxExtensions)
	}
	if c.Circulation.HoldPeriodDays < 1 {
		return fmt.Errorf("circulation: hold_period_days must be at least 1, got %d", c.Circulation.HoldPeriodDays)
	}
	if c.Circulation.DailyFineRateCents < 0 {
		return fmt.Errorf("circulation: daily_fine_rate_cents must not be negative, got %d", c.Circulation.DailyFineRateCents)
	}
	switch c.Circulation.FinePolicy {
	case "standard", "grace", "weekend":
	default:
		return fmt.Errorf("circulation: unknown fine_policy %q", c.Circulation.FinePolicy)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "CIRC_SERVER_ADDR")
	setString(&cfg.Database.URL, "CIRC_DATABASE_URL")
	setInt(&cfg.Circulation.LoanPeriodDays, "CIRC_LOAN_PERIOD_DAYS")
	setInt(&cfg.Circulation.ExtensionDays, "CIRC_EXTENSION_DAYS")
	setInt(&cfg.Circulation.MaxExtensions, "CIRC_MAX_EXTENSIONS")
	setInt(&cfg.Circulation.HoldPeriodDays, "CIRC_HOLD_PERIOD_DAYS")
	setInt64(&cfg.Circulation.DailyFineRateCents, "CIRC_DAILY_FINE_RATE_CENTS")
	setString(&cfg.Circulation.FinePolicy, "CIRC_FINE_POLICY")
	setString(&cfg.Sweeper.Schedule, "CIRC_SWEEP_SCHEDULE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
