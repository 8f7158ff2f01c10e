package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"concord.chat/internal/economy"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

var ValidDrivers = []string{DriverMemory, DriverPostgres, DriverMongo}

// Config holds all concord configuration.
type Config struct {
	Discord       DiscordConfig      `yaml:"discord"`
	Storage       StorageConfig      `yaml:"storage"`
	HTTP          HTTPConfig         `yaml:"http"`
	Leaderboard   LeaderboardConfig  `yaml:"leaderboard"`
	Economy       EconomyConfig      `yaml:"economy"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// DiscordConfig configures the gateway session.
type DiscordConfig struct {
	Token string `yaml:"token"`
	AppID string `yaml:"app_id"`
	// GuildIDs receive guild-scoped command registration; empty registers globally.
	GuildIDs         []string `yaml:"guild_ids"`
	RegisterCommands bool     `yaml:"register_commands"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver        string `yaml:"driver"` // memory, postgres, mongo
	PostgresDSN   string `yaml:"postgres_dsn"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	// AutoMigrate applies pending Postgres migrations on serve.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// HTTPConfig configures the ops API.
type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// LeaderboardConfig configures page caching.
type LeaderboardConfig struct {
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	PageSize        int           `yaml:"page_size"`
}

// EconomyConfig configures interest and the sweep schedule.
type EconomyConfig struct {
	DailyRateBP    int64         `yaml:"daily_rate_bp"`
	FeeThreshold   int64         `yaml:"fee_threshold"`
	MaintenanceFee int64         `yaml:"maintenance_fee"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// Policy returns the interest policy.
func (e EconomyConfig) Policy() economy.Policy {
	return economy.Policy{DailyRateBP: e.DailyRateBP, FeeThreshold: e.FeeThreshold, MaintenanceFee: e.MaintenanceFee}
}

// NotificationConfig bounds level-up delivery.
type NotificationConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// PerGuildRate is messages per second per guild.
	PerGuildRate  float64 `yaml:"per_guild_rate"`
	PerGuildBurst int     `yaml:"per_guild_burst"`
	Buffer        int     `yaml:"buffer"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	policy := economy.DefaultPolicy()
	return &Config{
		Discord: DiscordConfig{RegisterCommands: true},
		Storage: StorageConfig{
			Driver:        DriverMemory,
			MongoDatabase: "concord",
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   15 * time.Second,
		},
		Leaderboard: LeaderboardConfig{
			CacheTTL:        time.Hour,
			CleanupInterval: 10 * time.Minute,
			PageSize:        10,
		},
		Economy: EconomyConfig{
			DailyRateBP:    policy.DailyRateBP,
			FeeThreshold:   policy.FeeThreshold,
			MaintenanceFee: policy.MaintenanceFee,
			SweepInterval:  24 * time.Hour,
		},
		Notifications: NotificationConfig{
			Timeout:       5 * time.Second,
			PerGuildRate:  1,
			PerGuildBurst: 5,
			Buffer:        256,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file. A missing file yields defaults. Environment
// overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONCORD_DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("CONCORD_DISCORD_APP_ID"); v != "" {
		c.Discord.AppID = v
	}
	if v := os.Getenv("CONCORD_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("CONCORD_PG_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CONCORD_MONGO_URI"); v != "" {
		c.Storage.MongoURI = v
	}
	if v := os.Getenv("CONCORD_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("CONCORD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the fields needed to run.
func (c *Config) Validate() error {
	if !slices.Contains(ValidDrivers, c.Storage.Driver) {
		return fmt.Errorf("invalid storage driver: %s (valid: %v)", c.Storage.Driver, ValidDrivers)
	}
	if c.Storage.Driver == DriverPostgres && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("postgres driver requires storage.postgres_dsn (or CONCORD_PG_DSN)")
	}
	if c.Storage.Driver == DriverMongo && c.Storage.MongoURI == "" {
		return fmt.Errorf("mongo driver requires storage.mongo_uri (or CONCORD_MONGO_URI)")
	}
	if c.Leaderboard.PageSize < 1 || c.Leaderboard.PageSize > 25 {
		return fmt.Errorf("leaderboard.page_size must be between 1 and 25, got %d", c.Leaderboard.PageSize)
	}
	if c.Leaderboard.CacheTTL <= 0 {
		return fmt.Errorf("leaderboard.cache_ttl must be positive")
	}
	if c.Economy.DailyRateBP < 0 || c.Economy.FeeThreshold < 0 || c.Economy.MaintenanceFee < 0 {
		return fmt.Errorf("economy rates and fees must be non-negative")
	}
	if c.Economy.SweepInterval <= 0 {
		return fmt.Errorf("economy.sweep_interval must be positive")
	}
	return nil
}

// ValidateDiscord checks the fields needed to open a gateway session.
func (c *Config) ValidateDiscord() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord token not configured (set discord.token or CONCORD_DISCORD_TOKEN)")
	}
	return nil
}
