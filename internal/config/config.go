package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vertex-labs/crmsync/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store StoreConfig `yaml:"store" mapstructure:"store"`
	GHL   GHLConfig   `yaml:"ghl" mapstructure:"ghl"`
	Sync  SyncConfig  `yaml:"sync" mapstructure:"sync"`
	Retry RetryConfig `yaml:"retry" mapstructure:"retry"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the warehouse backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns"`
}

// GHLConfig holds the CRM API credentials and endpoint settings.
type GHLConfig struct {
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	Token      string  `yaml:"token" mapstructure:"token"`
	LocationID string  `yaml:"location_id" mapstructure:"location_id"`
	APIVersion string  `yaml:"api_version" mapstructure:"api_version"`
	UserAgent  string  `yaml:"user_agent" mapstructure:"user_agent"`
	NoteUserID string  `yaml:"note_user_id" mapstructure:"note_user_id"`
	SmoothRPS  float64 `yaml:"smooth_rps" mapstructure:"smooth_rps"`
}

// SyncConfig configures the reconciliation runs.
type SyncConfig struct {
	Concurrency     int    `yaml:"concurrency" mapstructure:"concurrency"`
	PageSize        int    `yaml:"page_size" mapstructure:"page_size"`
	BurstMax        int    `yaml:"burst_max" mapstructure:"burst_max"`
	BurstWindowSecs int    `yaml:"burst_window_secs" mapstructure:"burst_window_secs"`
	ProgressEvery   int    `yaml:"progress_every" mapstructure:"progress_every"`
	OutDir          string `yaml:"out_dir" mapstructure:"out_dir"`
	Rating          string `yaml:"rating" mapstructure:"rating"`
	Stage           string `yaml:"stage" mapstructure:"stage"`
}

// BurstWindow returns the burst window as a duration.
func (c SyncConfig) BurstWindow() time.Duration {
	return time.Duration(c.BurstWindowSecs) * time.Second
}

// RetryConfig configures the retry executor for datastore calls.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffSecs float64 `yaml:"initial_backoff_secs" mapstructure:"initial_backoff_secs"`
	MaxBackoffSecs     float64 `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
}

// Resilience converts the serializable retry settings into the executor's
// config.
func (c RetryConfig) Resilience() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffSecs > 0 {
		cfg.InitialBackoff = time.Duration(c.InitialBackoffSecs * float64(time.Second))
	}
	if c.MaxBackoffSecs > 0 {
		cfg.MaxBackoff = time.Duration(c.MaxBackoffSecs * float64(time.Second))
	}
	return cfg
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CRMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("ghl.base_url", "https://services.leadconnectorhq.com")
	v.SetDefault("ghl.token", "")
	v.SetDefault("ghl.location_id", "")
	v.SetDefault("ghl.note_user_id", "")
	v.SetDefault("ghl.smooth_rps", 0.0)
	v.SetDefault("ghl.api_version", "2021-07-28")
	v.SetDefault("ghl.user_agent", "crmsync/1.0")
	v.SetDefault("sync.concurrency", 12)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.burst_max", 100)
	v.SetDefault("sync.burst_window_secs", 10)
	v.SetDefault("sync.progress_every", 100)
	v.SetDefault("sync.out_dir", "sync-output")
	v.SetDefault("sync.rating", "1. Hot")
	v.SetDefault("sync.stage", "Proposal Sent")
	v.SetDefault("retry.max_attempts", 6)
	v.SetDefault("retry.initial_backoff_secs", 2.0)
	v.SetDefault("retry.max_backoff_secs", 15.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
