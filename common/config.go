// Package common holds the analyzer configuration and the resource inventory
// loaders shared by the CLI and the scheduler.
package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StageConfig configures one analysis stage.
type StageConfig struct {
	// Models are rotated round-robin across attempts.
	Models []string `mapstructure:"models"`
	// RetryModel substitutes the rotation after FallbackAfter failed attempts.
	RetryModel string `mapstructure:"retry_model"`
	// FallbackAfter is the attempt count that triggers the retry model. Zero
	// disables the fallback.
	FallbackAfter int `mapstructure:"fallback_after"`
}

// RetryConfig mirrors policy.Config in file form.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	BackoffMultiple float64       `mapstructure:"backoff_multiple"`
	RateLimitFreeze time.Duration `mapstructure:"rate_limit_freeze"`
	PaceMin         time.Duration `mapstructure:"pace_min"`
	PaceMax         time.Duration `mapstructure:"pace_max"`
}

// TimeoutConfig bounds a single AI call attempt.
type TimeoutConfig struct {
	Total   time.Duration `mapstructure:"total"`
	Read    time.Duration `mapstructure:"read"`
	Connect time.Duration `mapstructure:"connect"`
}

// ControlConfig selects the run-control backend.
type ControlConfig struct {
	// File is the path of the JSON control file. Empty disables the file
	// backend.
	File string `mapstructure:"file"`
	// RedisKey enables the Redis backend when Redis is configured.
	RedisKey string `mapstructure:"redis_key"`
	// Interval caps how often the flag is re-read.
	Interval time.Duration `mapstructure:"interval"`
}

// RedisConfig connects the optional Redis-backed run control.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Config is the full analyzer configuration.
type Config struct {
	Concurrency int    `mapstructure:"concurrency"`
	LogLevel    string `mapstructure:"log_level"`

	StoreDSN string `mapstructure:"store_dsn"`

	ProxyFile string `mapstructure:"proxy_file"`
	KeyFile   string `mapstructure:"key_file"`

	Stage1 StageConfig `mapstructure:"stage1"`
	Stage2 StageConfig `mapstructure:"stage2"`

	Retry    RetryConfig   `mapstructure:"retry"`
	Timeouts TimeoutConfig `mapstructure:"timeouts"`
	Control  ControlConfig `mapstructure:"control"`
	Redis    RedisConfig   `mapstructure:"redis"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LoadConfig reads the configuration file (when given) and environment
// overrides prefixed with ANALYZER_.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("concurrency", 40)
	v.SetDefault("log_level", "info")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 2*time.Second)
	v.SetDefault("retry.max_delay", 60*time.Second)
	v.SetDefault("retry.backoff_multiple", 2.0)
	v.SetDefault("retry.rate_limit_freeze", 3*time.Minute)
	v.SetDefault("retry.pace_min", time.Second)
	v.SetDefault("retry.pace_max", 30*time.Second)
	v.SetDefault("timeouts.total", 250*time.Second)
	v.SetDefault("timeouts.read", 240*time.Second)
	v.SetDefault("timeouts.connect", 6*time.Second)
	v.SetDefault("control.interval", 10*time.Second)
	v.SetDefault("stage1.fallback_after", 2)
	v.SetDefault("stage2.fallback_after", 2)

	v.SetEnvPrefix("ANALYZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if len(c.Stage1.Models) == 0 {
		return fmt.Errorf("stage1 requires at least one model")
	}
	if len(c.Stage2.Models) == 0 {
		return fmt.Errorf("stage2 requires at least one model")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	return nil
}
