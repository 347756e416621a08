package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

type DexScreenerConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RatePerSecond     float64       `mapstructure:"rate_per_second"`
	Burst             int           `mapstructure:"burst"`
	AllowedChains     []string      `mapstructure:"allowed_chains"`
	MinLiquidityRatio float64       `mapstructure:"min_liquidity_ratio"`
	MaxLiquidityRatio float64       `mapstructure:"max_liquidity_ratio"`
	MinLiquidityUSD   float64       `mapstructure:"min_liquidity_usd"`
}

type HeliusConfig struct {
	APIBaseURL       string        `mapstructure:"api_base_url"`
	RPCURL           string        `mapstructure:"rpc_url"`
	AggregatorWallet string        `mapstructure:"aggregator_wallet"`
	TxLimit          int           `mapstructure:"tx_limit"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	ExcludedMints    []string      `mapstructure:"excluded_mints"`
}

type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	Delay        time.Duration `mapstructure:"delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// TelegramConfig tunes the outbound transport. The bot token is a secret
// and comes from shared/env.
type TelegramConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
	MaxAttempts   int     `mapstructure:"max_attempts"`
	// ForwardLogs sends Warn and Error lines to the ops chat when one is configured.
	ForwardLogs bool `mapstructure:"forward_logs"`
	// ProjectTokenCA is the /ca reply.
	ProjectTokenCA string `mapstructure:"project_token_ca"`
}

type ClickHouseConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Config defines the global configuration structure
type Config struct {
	App struct {
		Port        string `mapstructure:"port"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"app"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Dashboard struct {
		RecentLimit int      `mapstructure:"recent_limit"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"dashboard"`

	Resolution struct {
		// Order is aggregator_first or scanner_first.
		Order string `mapstructure:"order"`
	} `mapstructure:"resolution"`

	DexScreener DexScreenerConfig `mapstructure:"dexscreener"`
	Helius      HeliusConfig      `mapstructure:"helius"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	ClickHouse  ClickHouseConfig  `mapstructure:"clickhouse"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.environment", "development")
	v.SetDefault("logging.level", "info")

	v.SetDefault("dashboard.recent_limit", 100)
	v.SetDefault("dashboard.cors_origins", []string{"*"})

	v.SetDefault("resolution.order", "aggregator_first")

	v.SetDefault("dexscreener.base_url", "https://api.dexscreener.com")
	v.SetDefault("dexscreener.timeout", "8s")
	v.SetDefault("dexscreener.rate_per_second", 4.66)
	v.SetDefault("dexscreener.burst", 5)
	v.SetDefault("dexscreener.allowed_chains", []string{"solana", "bsc", "base"})
	v.SetDefault("dexscreener.min_liquidity_ratio", 5.0)
	v.SetDefault("dexscreener.max_liquidity_ratio", 200.0)
	v.SetDefault("dexscreener.min_liquidity_usd", 1000.0)

	v.SetDefault("helius.api_base_url", "https://api.helius.xyz")
	v.SetDefault("helius.rpc_url", "")
	v.SetDefault("helius.aggregator_wallet", "AgmLJBMDCqWynYnQiPCuj9ewsNNsBJXyzoUhD9LJzN51")
	v.SetDefault("helius.tx_limit", 50)
	v.SetDefault("helius.timeout", "5s")
	v.SetDefault("helius.rate_per_second", 10.0)
	v.SetDefault("helius.excluded_mints", []string{"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"})

	v.SetDefault("cache.ttl", "4h")
	v.SetDefault("cache.sweep_interval", "10m")

	v.SetDefault("retry.max_retries", 1)
	v.SetDefault("retry.delay", "5s")
	v.SetDefault("retry.poll_interval", "1s")

	v.SetDefault("telegram.rate_per_second", 25.0)
	v.SetDefault("telegram.burst", 5)
	v.SetDefault("telegram.max_attempts", 3)
	v.SetDefault("telegram.forward_logs", true)
	v.SetDefault("telegram.project_token_ca", "We don't have an official token yet. Coming soon!")

	v.SetDefault("clickhouse.batch_size", 200)
	v.SetDefault("clickhouse.flush_interval", "10s")
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

// LoadConfig loads configuration from the specified file path and merges it
// with environment variables. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	log.Printf("Starting to load configuration from file: %s", path)

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	bindings := map[string]string{
		"app.port":                 "PORT",
		"app.environment":          "ENVIRONMENT",
		"logging.level":            "LOG_LEVEL",
		"resolution.order":         "RESOLUTION_ORDER",
		"dexscreener.base_url":     "DEXSCREENER_BASE_URL",
		"helius.api_base_url":      "HELIUS_API_BASE_URL",
		"helius.rpc_url":           "HELIUS_RPC_URL",
		"helius.aggregator_wallet": "AGGREGATOR_WALLET",
		"retry.max_retries":        "RETRY_MAX_RETRIES",
		"retry.delay":              "RETRY_DELAY",
	}
	for key, envName := range bindings {
		if err := v.BindEnv(key, envName); err != nil {
			return nil, fmt.Errorf("bind %s: %w", envName, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Printf("Warning: config file %s not found, using defaults and environment", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Printf("Loaded configuration from file: %s (environment=%s, resolution=%s)", path, cfg.App.Environment, cfg.Resolution.Order)
	return &cfg, nil
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	switch c.Resolution.Order {
	case "aggregator_first", "scanner_first":
	default:
		return fmt.Errorf("resolution.order must be aggregator_first or scanner_first, got %q", c.Resolution.Order)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.Delay <= 0 || c.Retry.PollInterval <= 0 {
		return fmt.Errorf("retry.delay and retry.poll_interval must be positive")
	}
	if c.DexScreener.MinLiquidityRatio > c.DexScreener.MaxLiquidityRatio {
		return fmt.Errorf("dexscreener.min_liquidity_ratio exceeds max_liquidity_ratio")
	}
	return nil
}
