package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"kabu-alerts/internal/logging"
)

const defaultTimezone = "Asia/Tokyo"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Market    MarketConfig    `mapstructure:"market"`
	Line      LineConfig      `mapstructure:"line"`
	Server    ServerConfig    `mapstructure:"server"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the built-in sweep trigger used by `run`.
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EvaluatorConfig tunes condition evaluation.
type EvaluatorConfig struct {
	Timezone string `mapstructure:"timezone"`
	// Cooldown suppresses a rule that fired more recently than this; zero keeps
	// every matching sweep firing.
	Cooldown time.Duration `mapstructure:"cooldown"`
	// FireRetention prunes fire history older than this after each sweep; zero keeps everything.
	FireRetention time.Duration `mapstructure:"fire_retention"`
}

// MarketConfig captures market data connectivity.
type MarketConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	DetailURLBase  string        `mapstructure:"detail_url_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxCandidates  int           `mapstructure:"max_candidates"`
}

// LineConfig describes the LINE Messaging API channel.
type LineConfig struct {
	ChannelSecret      string        `mapstructure:"channel_secret"`
	ChannelAccessToken string        `mapstructure:"channel_access_token"`
	APIBase            string        `mapstructure:"api_base"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	PushRatePerSec     float64       `mapstructure:"push_rate_per_sec"`
	PushBurst          int           `mapstructure:"push_burst"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	TriggerToken    string        `mapstructure:"trigger_token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	DefaultWindow time.Duration `mapstructure:"default_window"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("KABU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "kabu-alerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 7)
	v.SetDefault("logging.file.max_age_days", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6b616275))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("evaluator.timezone", defaultTimezone)
	v.SetDefault("evaluator.cooldown", "0s")
	v.SetDefault("evaluator.fire_retention", "2160h")

	v.SetDefault("market.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("market.detail_url_base", "https://finance.yahoo.co.jp/quote/")
	v.SetDefault("market.request_timeout", "10s")
	v.SetDefault("market.user_agent", "Mozilla/5.0")
	v.SetDefault("market.max_candidates", 5)

	v.SetDefault("line.channel_secret", "")
	v.SetDefault("line.channel_access_token", "")
	v.SetDefault("line.api_base", "https://api.line.me")
	v.SetDefault("line.request_timeout", "10s")
	v.SetDefault("line.push_rate_per_sec", 10.0)
	v.SetDefault("line.push_burst", 5)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.trigger_token", "")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("export.default_window", "720h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Interval > time.Minute {
		return fmt.Errorf("scheduler.interval must not exceed 1m; time-of-day rules match whole minutes")
	}
	if err := validateTimezone(c.Evaluator.Timezone); err != nil {
		return err
	}
	if c.Evaluator.Cooldown < 0 {
		return fmt.Errorf("evaluator.cooldown cannot be negative")
	}
	if c.Evaluator.FireRetention < 0 {
		return fmt.Errorf("evaluator.fire_retention cannot be negative")
	}
	if c.Line.PushRatePerSec < 0 {
		return fmt.Errorf("line.push_rate_per_sec cannot be negative")
	}
	if c.Market.MaxCandidates <= 0 || c.Market.MaxCandidates > 13 {
		return fmt.Errorf("market.max_candidates must be between 1 and 13")
	}
	if c.Export.DefaultWindow <= 0 {
		return fmt.Errorf("export.default_window must be greater than zero")
	}
	return nil
}

// validateTimezone rejects zones the tz database cannot resolve. The default
// zone is exempt since the evaluator carries a fixed JST fallback for it.
func validateTimezone(name string) error {
	if name == "" || name == defaultTimezone {
		return nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("evaluator.timezone %q: %w", name, err)
	}
	return nil
}

// RequireLine checks the credentials needed to talk to LINE.
func (c *Config) RequireLine() error {
	if c.Line.ChannelAccessToken == "" {
		return fmt.Errorf("line.channel_access_token must be configured")
	}
	return nil
}

// RequireWebhook checks the settings needed to accept LINE webhooks.
func (c *Config) RequireWebhook() error {
	if err := c.RequireLine(); err != nil {
		return err
	}
	if c.Line.ChannelSecret == "" {
		return fmt.Errorf("line.channel_secret must be configured")
	}
	return nil
}
