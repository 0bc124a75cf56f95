// Package config loads service configuration from a YAML file with
// environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Providers ProvidersConfig `yaml:"providers"`
	Extractor ServiceEndpoint `yaml:"extractor"`
	Packager  ServiceEndpoint `yaml:"packager"`
	Usage     UsageConfig     `yaml:"usage"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type QueueConfig struct {
	QueueKey      string `yaml:"queue_key"`
	ProcessingKey string `yaml:"processing_key"`
	ClaimMapKey   string `yaml:"claim_map_key"`
}

type WorkerConfig struct {
	Workers        int           `yaml:"workers"`
	ReaperInterval time.Duration `yaml:"reaper_interval"`
	ReaperBatch    int64         `yaml:"reaper_batch"`
}

type PipelineConfig struct {
	SoftStageTimeout time.Duration `yaml:"soft_stage_timeout"`
	HardStageTimeout time.Duration `yaml:"hard_stage_timeout"`
	ProgressTTL      time.Duration `yaml:"progress_ttl"`
}

type ProvidersConfig struct {
	Primary  ProviderConfig `yaml:"primary"`
	Fallback ProviderConfig `yaml:"fallback"`
	Retry    RetryConfig    `yaml:"retry"`
}

type ProviderConfig struct {
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	UnknownAttempts int           `yaml:"unknown_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	Multipliers     []int         `yaml:"multipliers"`
	MaxDelay        time.Duration `yaml:"max_delay"`
}

type ServiceEndpoint struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type UsageConfig struct {
	CacheTTL    time.Duration         `yaml:"cache_ttl"`
	DefaultTier string                `yaml:"default_tier"`
	Tiers       map[string]TierConfig `yaml:"tiers"`
	Owners      map[string]string     `yaml:"owners"`
}

type TierConfig struct {
	Limit    int64 `yaml:"limit"`
	Priority int   `yaml:"priority"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Load reads the YAML file at path (optional), applies environment
// overrides, fills defaults and validates.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     30 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Redis: RedisConfig{Prefix: "conv:"},
		Queue: QueueConfig{
			QueueKey:      "conversions:queue",
			ProcessingKey: "conversions:processing",
		},
		Worker: WorkerConfig{
			Workers:        4,
			ReaperInterval: 30 * time.Second,
			ReaperBatch:    100,
		},
		Pipeline: PipelineConfig{
			SoftStageTimeout: 3 * time.Minute,
			HardStageTimeout: 5 * time.Minute,
			ProgressTTL:      24 * time.Hour,
		},
		Providers: ProvidersConfig{
			Primary:  ProviderConfig{Name: "primary"},
			Fallback: ProviderConfig{Name: "fallback"},
			Retry: RetryConfig{
				MaxAttempts:     3,
				UnknownAttempts: 2,
				BaseDelay:       2 * time.Second,
				Multipliers:     []int{1, 5, 15},
				MaxDelay:        time.Minute,
			},
		},
		Usage: UsageConfig{
			CacheTTL:    time.Hour,
			DefaultTier: "free",
			Tiers: map[string]TierConfig{
				"free":       {Limit: 20, Priority: 0},
				"pro":        {Limit: 200, Priority: 1},
				"enterprise": {Limit: 0, Priority: 2},
			},
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func (c *Config) applyEnv() {
	setStr(&c.Server.Addr, "SERVER_ADDR")
	setStr(&c.Postgres.DSN, "POSTGRES_DSN")
	setStr(&c.Redis.Addr, "REDIS_ADDR")
	setStr(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setInt(&c.Worker.Workers, "WORKERS")
	setStr(&c.Providers.Primary.APIKey, "PRIMARY_PROVIDER_API_KEY")
	setStr(&c.Providers.Primary.BaseURL, "PRIMARY_PROVIDER_URL")
	setStr(&c.Providers.Fallback.APIKey, "FALLBACK_PROVIDER_API_KEY")
	setStr(&c.Providers.Fallback.BaseURL, "FALLBACK_PROVIDER_URL")
	setStr(&c.Extractor.BaseURL, "EXTRACTOR_URL")
	setStr(&c.Packager.BaseURL, "PACKAGER_URL")
	setStr(&c.Log.Level, "LOG_LEVEL")
}

func (c *Config) validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres dsn is required (POSTGRES_DSN)")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required (REDIS_ADDR)")
	}
	if c.Queue.ClaimMapKey == "" {
		c.Queue.ClaimMapKey = c.Queue.ProcessingKey + ":claims"
	}
	if c.Pipeline.HardStageTimeout <= c.Pipeline.SoftStageTimeout {
		c.Pipeline.HardStageTimeout = c.Pipeline.SoftStageTimeout + time.Minute
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}
