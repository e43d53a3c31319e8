package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"card-price-sync/internal/logging"
	"card-price-sync/internal/version"
)

// EnvPrefix prefixes every environment override, e.g. CARDSYNC_SYNC_BATCH_SIZE.
const EnvPrefix = "CARDSYNC"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Pricing   UpstreamConfig  `mapstructure:"pricing"`
	Catalog   UpstreamConfig  `mapstructure:"catalog"`
	Decklist  UpstreamConfig  `mapstructure:"decklist"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// UpstreamConfig describes one rate-limited external service.
type UpstreamConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

// RetryConfig bounds retries per error class.
type RetryConfig struct {
	NetworkAttempts    int           `mapstructure:"network_attempts"`
	RateLimitAttempts  int           `mapstructure:"rate_limit_attempts"`
	RateLimitBaseDelay time.Duration `mapstructure:"rate_limit_base_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	BreakerFailures    uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown    time.Duration `mapstructure:"breaker_cooldown"`
}

// SyncConfig tunes the batch run.
type SyncConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	BatchDelay      time.Duration `mapstructure:"batch_delay"`
	ProgressEvery   int           `mapstructure:"progress_every"`
	Timezone        string        `mapstructure:"timezone"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// Location resolves the timezone that defines the current calendar day.
func (s SyncConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("sync.timezone: %w", err)
	}
	return loc, nil
}

// SchedulerConfig governs sync cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

// AlertsConfig defines price-move thresholds.
type AlertsConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	IncreasePct float64       `mapstructure:"increase_pct"`
	DecreasePct float64       `mapstructure:"decrease_pct"`
	DedupWindow time.Duration `mapstructure:"dedup_window"`
	Lookback    time.Duration `mapstructure:"lookback"`
}

// NotifyConfig routes created alerts.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// OpsConfig exposes health and metrics. An empty Listen disables the server.
type OpsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the environment without overriding variables already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "cardsync")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.path", "data/cardsync.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	upstreamDefaults(v, "pricing", "https://api.scryfall.com", "24h")
	upstreamDefaults(v, "catalog", "https://api.scryfall.com", "24h")
	upstreamDefaults(v, "decklist", "", "0s")
	v.SetDefault("decklist.min_interval", "1s")

	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.batch_delay", "100ms")
	v.SetDefault("sync.progress_every", 100)
	v.SetDefault("sync.timezone", "UTC")
	v.SetDefault("sync.advisory_lock_key", int64(0x63617264))

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.retry_delay", "5m")
	v.SetDefault("scheduler.max_retries", 3)

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.increase_pct", 20.0)
	v.SetDefault("alerts.decrease_pct", 30.0)
	v.SetDefault("alerts.dedup_window", "24h")
	v.SetDefault("alerts.lookback", "24h")

	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notify.telegram.timeout", "10s")

	v.SetDefault("ops.listen", "")

	v.SetDefault("export.max_data_points", 100000)
}

func upstreamDefaults(v *viper.Viper, section, baseURL, cacheTTL string) {
	v.SetDefault(section+".base_url", baseURL)
	v.SetDefault(section+".timeout", "10s")
	v.SetDefault(section+".user_agent", version.UserAgent())
	v.SetDefault(section+".min_interval", "100ms")
	v.SetDefault(section+".cache_ttl", cacheTTL)
	v.SetDefault(section+".retry.network_attempts", 3)
	v.SetDefault(section+".retry.rate_limit_attempts", 4)
	v.SetDefault(section+".retry.rate_limit_base_delay", "500ms")
	v.SetDefault(section+".retry.max_delay", "8s")
	v.SetDefault(section+".retry.breaker_failures", 0)
	v.SetDefault(section+".retry.breaker_cooldown", "1m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be one of postgres, sqlite, memory (got %q)", c.Database.Driver)
	}

	for name, u := range map[string]UpstreamConfig{"pricing": c.Pricing, "catalog": c.Catalog, "decklist": c.Decklist} {
		if err := u.validate(name); err != nil {
			return err
		}
	}
	if c.Pricing.BaseURL == "" {
		return fmt.Errorf("pricing.base_url is required")
	}

	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be greater than zero")
	}
	if c.Sync.BatchDelay < 0 {
		return fmt.Errorf("sync.batch_delay cannot be negative")
	}
	if c.Sync.ProgressEvery <= 0 {
		return fmt.Errorf("sync.progress_every must be greater than zero")
	}
	if _, err := c.Sync.Location(); err != nil {
		return err
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.MaxRetries < 0 || c.Scheduler.RetryDelay < 0 {
		return fmt.Errorf("scheduler retry settings cannot be negative")
	}

	if c.Alerts.IncreasePct <= 0 || c.Alerts.DecreasePct <= 0 {
		return fmt.Errorf("alerts thresholds must be greater than zero")
	}
	if c.Alerts.DecreasePct >= 100 {
		return fmt.Errorf("alerts.decrease_pct must be below 100")
	}
	if c.Alerts.DedupWindow <= 0 || c.Alerts.Lookback <= 0 {
		return fmt.Errorf("alerts.dedup_window and alerts.lookback must be greater than zero")
	}

	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
		}
		if c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

func (u UpstreamConfig) validate(name string) error {
	if u.Timeout <= 0 {
		return fmt.Errorf("%s.timeout must be greater than zero", name)
	}
	if u.MinInterval < 0 || u.CacheTTL < 0 {
		return fmt.Errorf("%s.min_interval and %s.cache_ttl cannot be negative", name, name)
	}
	r := u.Retry
	if r.NetworkAttempts < 1 || r.RateLimitAttempts < 1 {
		return fmt.Errorf("%s.retry attempts must be at least 1", name)
	}
	if r.RateLimitBaseDelay < 0 || r.MaxDelay < 0 {
		return fmt.Errorf("%s.retry delays cannot be negative", name)
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
