// Package config provides configuration management for the wallet safety
// service. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chains    ChainsConfig
	Gateway   GatewayConfig
	Scan      ScanConfig
	Telegram  TelegramConfig
	Logging   LoggingConfig
	Etherscan EtherscanConfig
	Gemini    GeminiConfig
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainsConfig maps supported chains to their JSON-RPC endpoints
type ChainsConfig struct {
	RPCURLs map[types.ChainID]string
}

// RateWindows holds the three rolling rate-limit windows for a provider
type RateWindows struct {
	PerSecond int
	PerMinute int
	PerDay    int
}

// GatewayConfig holds the request gateway configuration
type GatewayConfig struct {
	RequestTimeout time.Duration
	MaxAttempts    int
	TickInterval   time.Duration
	ReaperLease    time.Duration
	Limits         map[types.Provider]RateWindows
}

// ScanConfig holds analysis pipeline configuration
type ScanConfig struct {
	Interval         time.Duration
	InitialScanMaxTx int
	WorkerPoll       time.Duration
}

// TelegramConfig holds the notification sink configuration
type TelegramConfig struct {
	BotToken string
}

// EtherscanConfig holds explorer API configuration
type EtherscanConfig struct {
	APIKey  string
	BaseURL string
}

// GeminiConfig holds AI provider configuration
type GeminiConfig struct {
	APIKey  string
	BaseURL string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("API_PORT", "8080"),
			Host: getEnv("API_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "web3safetykit"),
				User:           getEnv("POSTGRES_USER", "safetykit"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "web3safetykit"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Gateway: GatewayConfig{
			RequestTimeout: time.Duration(getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 120)) * time.Second,
			MaxAttempts:    getEnvAsInt("MAX_ATTEMPTS", 3),
			TickInterval:   getEnvAsDuration("GATEWAY_TICK_INTERVAL", 200*time.Millisecond),
			ReaperLease:    getEnvAsDuration("GATEWAY_REAPER_LEASE", 5*time.Minute),
			Limits: map[types.Provider]RateWindows{
				types.ProviderEtherscan: {
					PerSecond: getEnvAsInt("ETHERSCAN_RATE_LIMIT_SECOND", 4),
					PerMinute: getEnvAsInt("ETHERSCAN_RATE_LIMIT_MINUTE", 240),
					PerDay:    getEnvAsInt("ETHERSCAN_RATE_LIMIT_DAY", 100000),
				},
				types.ProviderGemini: {
					PerSecond: getEnvAsInt("GEMINI_RATE_LIMIT_SECOND", 1),
					PerMinute: getEnvAsInt("GEMINI_RATE_LIMIT_MINUTE", 50),
					PerDay:    getEnvAsInt("GEMINI_RATE_LIMIT_DAY", 1000),
				},
			},
		},
		Scan: ScanConfig{
			Interval:         time.Duration(getEnvAsInt("SCAN_INTERVAL_HOURS", 24)) * time.Hour,
			InitialScanMaxTx: getEnvAsInt("INITIAL_SCAN_MAX_TX", 1000),
			WorkerPoll:       getEnvAsDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Etherscan: EtherscanConfig{
			APIKey:  getEnv("ETHERSCAN_API_KEY", ""),
			BaseURL: getEnv("ETHERSCAN_BASE_URL", "https://api.etherscan.io/v2/api"),
		},
		Gemini: GeminiConfig{
			APIKey:  getEnv("GEMINI_API_KEY", ""),
			BaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent"),
		},
	}

	config.Chains = loadChainConfigs()

	return config, nil
}

// loadChainConfigs loads per-chain RPC endpoints. Chains without a configured
// endpoint still get explorer coverage; only direct on-chain reads need RPC.
func loadChainConfigs() ChainsConfig {
	urls := make(map[types.ChainID]string)
	for _, chain := range types.SupportedChains() {
		prefix := strings.ToUpper(string(chain))
		if url := getEnv(prefix+"_RPC_URL", ""); url != "" {
			urls[chain] = url
		}
	}
	return ChainsConfig{RPCURLs: urls}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
