package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Base       BaseConfig       `mapstructure:"base"`
	Solana     SolanaConfig     `mapstructure:"solana"`
	Circle     CircleConfig     `mapstructure:"circle"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Safety     SafetyConfig     `mapstructure:"safety"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// BaseConfig contains Base (EVM) client settings
type BaseConfig struct {
	RPCURL             string `mapstructure:"rpc_url" validate:"required"`
	ChainID            int64  `mapstructure:"chain_id"`
	OperatorPrivateKey string `mapstructure:"operator_private_key"`
	USDCAddress        string `mapstructure:"usdc_address"`
	TokenMessenger     string `mapstructure:"token_messenger"`
	MessageTransmitter string `mapstructure:"message_transmitter"`
}

// SolanaConfig contains Solana client settings
type SolanaConfig struct {
	RPCURL                    string `mapstructure:"rpc_url" validate:"required"`
	OperatorPrivateKey        string `mapstructure:"operator_private_key"`
	USDCMint                  string `mapstructure:"usdc_mint"`
	MessageTransmitterProgram string `mapstructure:"message_transmitter_program"`
	RewardPoolAccount         string `mapstructure:"reward_pool_account"`
}

// CircleConfig contains Circle attestation service settings
type CircleConfig struct {
	AttestationURL string        `mapstructure:"attestation_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
}

// BridgeConfig contains bridge operation settings
type BridgeConfig struct {
	DryRun          bool          `mapstructure:"dry_run"`
	ThresholdUSD    float64       `mapstructure:"threshold_usd"`
	MaxSingleUSD    float64       `mapstructure:"max_single_usd"`
	MaxDailyUSD     float64       `mapstructure:"max_daily_usd"`
	MaxBaseFeeGwei  float64       `mapstructure:"max_base_fee_gwei"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	TriggerInterval time.Duration `mapstructure:"trigger_interval"`
	AdvanceInterval time.Duration `mapstructure:"advance_interval"`
}

// SafetyConfig contains portfolio and loss guard settings
type SafetyConfig struct {
	MaxSingleAllocation float64       `mapstructure:"max_single_allocation" validate:"gt=0,lte=1"`
	AnchorAsset         string        `mapstructure:"anchor_asset"`
	AnchorMinWeight     float64       `mapstructure:"anchor_min_weight" validate:"gte=0,lte=1"`
	MaxTurnover         float64       `mapstructure:"max_turnover" validate:"gt=0,lte=1"`
	MaxChangedAssets    int           `mapstructure:"max_changed_assets" validate:"gt=0"`
	LossLimit           float64       `mapstructure:"loss_limit" validate:"gt=0,lte=1"`
	IdempotencyTTL      time.Duration `mapstructure:"idempotency_ttl"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "bridged")

	// Redis defaults
	viper.SetDefault("redis.url", "redis://localhost:6379/0")

	// Base defaults
	viper.SetDefault("base.chain_id", 8453)
	viper.SetDefault("base.usdc_address", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

	// Circle defaults
	viper.SetDefault("circle.attestation_url", "https://iris-api.circle.com")
	viper.SetDefault("circle.poll_interval", "15s")
	viper.SetDefault("circle.poll_timeout", "30m")

	// Bridge defaults
	viper.SetDefault("bridge.dry_run", true)
	viper.SetDefault("bridge.threshold_usd", 50)
	viper.SetDefault("bridge.max_single_usd", 1000)
	viper.SetDefault("bridge.max_daily_usd", 5000)
	viper.SetDefault("bridge.max_base_fee_gwei", 10)
	viper.SetDefault("bridge.max_retries", 3)
	viper.SetDefault("bridge.retry_base_delay", "5s")
	viper.SetDefault("bridge.trigger_interval", "5m")
	viper.SetDefault("bridge.advance_interval", "30s")

	// Safety defaults
	viper.SetDefault("safety.max_single_allocation", 0.30)
	viper.SetDefault("safety.anchor_asset", "USDC")
	viper.SetDefault("safety.anchor_min_weight", 0.05)
	viper.SetDefault("safety.max_turnover", 0.25)
	viper.SetDefault("safety.max_changed_assets", 4)
	viper.SetDefault("safety.loss_limit", 0.15)
	viper.SetDefault("safety.idempotency_ttl", "1h")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_port", 9090)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}
	// Live mode signs real transactions; refuse to start without keys.
	if !config.Bridge.DryRun {
		if config.Base.OperatorPrivateKey == "" {
			return fmt.Errorf("base.operator_private_key is required when bridge.dry_run is false")
		}
		if config.Solana.OperatorPrivateKey == "" {
			return fmt.Errorf("solana.operator_private_key is required when bridge.dry_run is false")
		}
		if config.Base.TokenMessenger == "" {
			return fmt.Errorf("base.token_messenger is required when bridge.dry_run is false")
		}
		if config.Base.MessageTransmitter == "" {
			return fmt.Errorf("base.message_transmitter is required when bridge.dry_run is false")
		}
		if config.Solana.RewardPoolAccount == "" {
			return fmt.Errorf("solana.reward_pool_account is required when bridge.dry_run is false")
		}
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
