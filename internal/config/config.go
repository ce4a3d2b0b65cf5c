package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/Tomyleexrp/xrplmeta/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Cache    SweepConfig    `mapstructure:"cache"`
	Ranking  RankingConfig  `mapstructure:"ranking"`
	Export   ExportConfig   `mapstructure:"export"`
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
}

// LedgerConfig describes the ledger feed and the pricing reference asset.
type LedgerConfig struct {
	FeedPath       string `mapstructure:"feed_path"`
	NativeCurrency string `mapstructure:"native_currency"`
}

// IngestConfig governs the sequential ledger diff loop.
type IngestConfig struct {
	Workers         int   `mapstructure:"workers"`
	AdvisoryLockKey int64 `mapstructure:"advisory_lock_key"`
}

// SweepConfig governs one recurring sweep cadence.
type SweepConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// RankingConfig governs ranked-list maintenance.
type RankingConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Depth    int           `mapstructure:"depth"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("XRPLMETA")
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
	v.SetDefault("app.name", "xrplmeta")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("ledger.feed_path", "ledgers.jsonl")
	v.SetDefault("ledger.native_currency", "XRP")

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.advisory_lock_key", int64(0x78726d74))

	v.SetDefault("cache.interval", "1m")
	v.SetDefault("cache.align_to_bucket", true)
	v.SetDefault("cache.startup_delay", "5s")

	v.SetDefault("ranking.interval", "5m")
	v.SetDefault("ranking.depth", 1000)

	v.SetDefault("export.max_data_points", 100000)
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
	if c.Ledger.FeedPath == "" {
		return fmt.Errorf("ledger.feed_path 必须配置")
	}
	if c.Ledger.NativeCurrency == "" {
		return fmt.Errorf("ledger.native_currency is required")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be greater than zero")
	}
	if c.Cache.Interval <= 0 {
		return fmt.Errorf("cache.interval must be greater than zero")
	}
	if c.Ranking.Interval <= 0 {
		return fmt.Errorf("ranking.interval must be greater than zero")
	}
	if c.Ranking.Depth <= 0 {
		return fmt.Errorf("ranking.depth must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
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
