package config

import (
	"os"
	"strconv"
	"strings"
)

const Version = "0.3.0"

// Config holds application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Backend configuration
	BackendType string // "sqlite" or "jsonfile"
	DBPath      string // SQLite database path
	BaseDir     string // jsonfile base directory

	// Cache configuration
	CacheType string // "memory" or "redis"
	CacheTTL  int    // seconds
	CacheSize int
	RedisHost string
	RedisPort int

	// Relationship sweep configuration
	SweepInterval int // seconds between expired-relationship sweeps, 0 disables

	// Query configuration
	MaxPathDepth    int
	DefaultPageSize int
	MaxEntitySize   int // bytes

	// Debug
	Debug bool
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            9080,
		BackendType:     "sqlite",
		DBPath:          "strata.db",
		BaseDir:         "data",
		CacheType:       "memory",
		CacheTTL:        300,
		CacheSize:       1024,
		RedisHost:       "localhost",
		RedisPort:       6379,
		SweepInterval:   60,
		MaxPathDepth:    10,
		DefaultPageSize: 10,
		MaxEntitySize:   1048576, // 1MB
		Debug:           false,
	}
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if val := os.Getenv("HOST"); val != "" {
		cfg.Host = val
	}
	if val := os.Getenv("PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Port = port
		}
	}
	if val := os.Getenv("BACKEND_TYPE"); val != "" {
		cfg.BackendType = val
	}
	if val := os.Getenv("DB_PATH"); val != "" {
		cfg.DBPath = val
	}
	if val := os.Getenv("BASE_DIR"); val != "" {
		cfg.BaseDir = val
	}
	if val := os.Getenv("CACHE_TYPE"); val != "" {
		cfg.CacheType = val
	}
	if val := os.Getenv("CACHE_TTL"); val != "" {
		if ttl, err := strconv.Atoi(val); err == nil {
			cfg.CacheTTL = ttl
		}
	}
	if val := os.Getenv("CACHE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.CacheSize = size
		}
	}
	if val := os.Getenv("REDIS_HOST"); val != "" {
		cfg.RedisHost = val
	}
	if val := os.Getenv("REDIS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.RedisPort = port
		}
	}
	if val := os.Getenv("SWEEP_INTERVAL"); val != "" {
		if interval, err := strconv.Atoi(val); err == nil {
			cfg.SweepInterval = interval
		}
	}
	if val := os.Getenv("MAX_PATH_DEPTH"); val != "" {
		if depth, err := strconv.Atoi(val); err == nil {
			cfg.MaxPathDepth = depth
		}
	}
	if val := os.Getenv("MAX_ENTITY_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.MaxEntitySize = size
		}
	}
	if val := os.Getenv("DEBUG"); val != "" {
		cfg.Debug = parseBool(val)
	}
}

func parseBool(val string) bool {
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes"
}
