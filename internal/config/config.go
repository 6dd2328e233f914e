package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `json:"server"`
	MongoDB   MongoDBConfig   `json:"mongodb"`
	RPC       RPCConfig       `json:"rpc"`
	Batch     BatchConfig     `json:"batch"`
	Adapters  AdapterConfig   `json:"adapters"`
	Cache     CacheConfig     `json:"cache"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI                string        `json:"uri"`
	Database           string        `json:"database"`
	APIKeyCollection   string        `json:"api_key_collection"`
	SnapshotCollection string        `json:"snapshot_collection"`
	ConnectTimeout     time.Duration `json:"connect_timeout"`
	MaxPoolSize        uint64        `json:"max_pool_size"`
}

// RPCConfig holds Solana RPC access configuration: endpoint, outbound
// rate limiting, and the retry policy applied to every upstream call
type RPCConfig struct {
	Endpoint          string        `json:"endpoint"`
	Timeout           time.Duration `json:"timeout"`
	Commitment        string        `json:"commitment"`
	RequestsPerSecond int           `json:"requests_per_second"`
	CounterReset      time.Duration `json:"counter_reset"`
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// BatchConfig holds RPC request coalescing configuration
type BatchConfig struct {
	Delay   time.Duration `json:"delay"`
	MaxSize int           `json:"max_size"`
}

// AdapterConfig holds protocol adapter fan-out configuration
type AdapterConfig struct {
	FanoutTimeout time.Duration `json:"fanout_timeout"`
	Parallel      bool          `json:"parallel"`
	CacheTTL      time.Duration `json:"cache_ttl"`
}

// CacheConfig holds aggregate cache configuration
type CacheConfig struct {
	TTL             time.Duration `json:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// RateLimitConfig holds inbound per-client rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute"`
	WindowSize        time.Duration `json:"window_size"`
	CleanupInterval   time.Duration `json:"cleanup_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string   `json:"level"`
	Environment string   `json:"environment"`
	OutputPaths []string `json:"output_paths"`
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		MongoDB: MongoDBConfig{
			URI:                getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:           getEnv("MONGODB_DATABASE", "solana_portfolio"),
			APIKeyCollection:   getEnv("MONGODB_APIKEY_COLLECTION", "api_keys"),
			SnapshotCollection: getEnv("MONGODB_SNAPSHOT_COLLECTION", "portfolio_snapshots"),
			ConnectTimeout:     getDurationEnv("MONGODB_CONNECT_TIMEOUT", 10*time.Second),
			MaxPoolSize:        getUint64Env("MONGODB_MAX_POOL_SIZE", 100),
		},
		RPC: RPCConfig{
			Endpoint:          getEnv("SOLANA_RPC_ENDPOINT", "https://api.mainnet-beta.solana.com"),
			Timeout:           getDurationEnv("SOLANA_RPC_TIMEOUT", 30*time.Second),
			Commitment:        getEnv("SOLANA_RPC_COMMITMENT", "finalized"),
			RequestsPerSecond: getIntEnv("RPC_REQUESTS_PER_SECOND", 10),
			CounterReset:      getDurationEnv("RPC_COUNTER_RESET", time.Hour),
			MaxAttempts:       getIntEnv("RPC_MAX_ATTEMPTS", 3),
			InitialDelay:      getDurationEnv("RPC_INITIAL_DELAY", 500*time.Millisecond),
			MaxDelay:          getDurationEnv("RPC_MAX_DELAY", 8*time.Second),
			BackoffMultiplier: getFloatEnv("RPC_BACKOFF_MULTIPLIER", 2.0),
		},
		Batch: BatchConfig{
			Delay:   getDurationEnv("BATCH_DELAY", 10*time.Millisecond),
			MaxSize: getIntEnv("BATCH_MAX_SIZE", 100),
		},
		Adapters: AdapterConfig{
			FanoutTimeout: getDurationEnv("ADAPTER_TIMEOUT", 5*time.Second),
			Parallel:      getBoolEnv("ADAPTER_PARALLEL", true),
			CacheTTL:      getDurationEnv("ADAPTER_CACHE_TTL", 30*time.Second),
		},
		Cache: CacheConfig{
			TTL:             getDurationEnv("AGGREGATE_CACHE_TTL", 30*time.Second),
			CleanupInterval: getDurationEnv("CACHE_CLEANUP_INTERVAL", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getIntEnv("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
			WindowSize:        getDurationEnv("RATE_LIMIT_WINDOW_SIZE", time.Minute),
			CleanupInterval:   getDurationEnv("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Environment: getEnv("LOG_ENVIRONMENT", "development"),
			OutputPaths: getStringSliceEnv("LOG_OUTPUT_PATHS", []string{"stdout"}),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getUint64Env(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uint64Value, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uint64Value
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// Simple comma-separated parsing
		return []string{value}
	}
	return defaultValue
}
