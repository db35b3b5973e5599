package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	IndicesFile string          `mapstructure:"indices_file"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Sources     SourcesConfig   `mapstructure:"sources"`
	Export      ExportConfig    `mapstructure:"export"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	Schedule    ScheduleConfig  `mapstructure:"schedule"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath  string `mapstructure:"db_path"`
	MaxRuns int    `mapstructure:"max_runs"`
}

// MetricsConfig holds indicator computation settings
type MetricsConfig struct {
	WindowYears    int      `mapstructure:"window_years"`
	PrimaryMetrics []string `mapstructure:"primary_metrics"` // first present one drives percentile_rank
	CheapBelow     float64  `mapstructure:"cheap_below"`
	ExpensiveAbove float64  `mapstructure:"expensive_above"`
}

// SourcesConfig holds upstream data source configuration
type SourcesConfig struct {
	DanjuanURL        string        `mapstructure:"danjuan_url"`
	YahooURL          string        `mapstructure:"yahoo_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelayBase    time.Duration `mapstructure:"retry_delay_base"`
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	HistoryYears      int           `mapstructure:"history_years"`
	Concurrency       int           `mapstructure:"concurrency"`
}

// ExportConfig holds dashboard export paths; an empty path disables that format
type ExportConfig struct {
	CSVPath  string `mapstructure:"csv_path"`
	XLSXPath string `mapstructure:"xlsx_path"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ScheduleConfig holds the cron spec used by the serve command
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// TelemetryConfig holds metrics output configuration
type TelemetryConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
	ListenAddr   string `mapstructure:"listen_addr"` // serve only; empty disables /metrics
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file next to the config file, if any, is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	// INDEXWATCH_TELEGRAM_BOT_TOKEN overrides telegram.bot_token
	v.SetEnvPrefix("INDEXWATCH")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.IndicesFile != "" && !filepath.IsAbs(cfg.IndicesFile) {
		cfg.IndicesFile = filepath.Join(filepath.Dir(path), cfg.IndicesFile)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("indices_file", "indices.yaml")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/indexwatch.db")
	v.SetDefault("storage.max_runs", 90)

	// Metrics defaults
	v.SetDefault("metrics.window_years", 10)
	v.SetDefault("metrics.primary_metrics", []string{"pe", "pb"})
	v.SetDefault("metrics.cheap_below", 30.0)
	v.SetDefault("metrics.expensive_above", 70.0)

	// Source defaults
	v.SetDefault("sources.danjuan_url", "https://danjuanapp.com/djapi/index_eva/dj")
	v.SetDefault("sources.yahoo_url", "https://query1.finance.yahoo.com")
	v.SetDefault("sources.timeout", "30s")
	v.SetDefault("sources.max_retries", 3)
	v.SetDefault("sources.retry_delay_base", "1s")
	v.SetDefault("sources.requests_per_second", 2)
	v.SetDefault("sources.history_years", 15)
	v.SetDefault("sources.concurrency", 4)

	// Export defaults
	v.SetDefault("export.csv_path", "./docs/assets.csv")
	v.SetDefault("export.xlsx_path", "")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Schedule defaults: weekdays after the Asian close
	v.SetDefault("schedule.cron", "0 30 18 * * 1-5")

	v.SetDefault("telemetry.textfile_path", "")
	v.SetDefault("telemetry.listen_addr", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.IndicesFile == "" {
		return fmt.Errorf("indices_file is required")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxRuns < 1 {
		return fmt.Errorf("storage.max_runs must be at least 1")
	}

	// Validate Metrics config
	if c.Metrics.WindowYears < 1 || c.Metrics.WindowYears > 100 {
		return fmt.Errorf("metrics.window_years must be between 1 and 100")
	}
	if len(c.Metrics.PrimaryMetrics) == 0 {
		return fmt.Errorf("metrics.primary_metrics must contain at least one metric")
	}
	if c.Metrics.CheapBelow < 0 || c.Metrics.ExpensiveAbove > 100 || c.Metrics.CheapBelow > c.Metrics.ExpensiveAbove {
		return fmt.Errorf("metrics.cheap_below and metrics.expensive_above must satisfy 0 <= cheap_below <= expensive_above <= 100")
	}

	// Validate Sources config
	if c.Sources.DanjuanURL == "" {
		return fmt.Errorf("sources.danjuan_url is required")
	}
	if c.Sources.YahooURL == "" {
		return fmt.Errorf("sources.yahoo_url is required")
	}
	if c.Sources.Timeout < 1*time.Second {
		return fmt.Errorf("sources.timeout must be at least 1 second")
	}
	if c.Sources.MaxRetries < 1 {
		return fmt.Errorf("sources.max_retries must be at least 1")
	}
	if c.Sources.RequestsPerSecond < 1 {
		return fmt.Errorf("sources.requests_per_second must be at least 1")
	}
	if c.Sources.HistoryYears < 1 {
		return fmt.Errorf("sources.history_years must be at least 1")
	}
	if c.Sources.Concurrency < 1 {
		return fmt.Errorf("sources.concurrency must be at least 1")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Schedule config
	if _, err := cron.NewParser(CronFields).Parse(c.Schedule.Cron); err != nil {
		return fmt.Errorf("schedule.cron is invalid: %w", err)
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// CronFields is the cron spec layout: seconds first, as cron.WithSeconds.
const CronFields = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

var envKeyReplacer = strings.NewReplacer(".", "_")
