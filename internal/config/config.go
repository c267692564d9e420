package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	// Switch management connection
	AMIHost     string
	AMIPort     string
	AMIUsername string
	AMISecret   string

	// Durable call record store
	StoreMode    string // "mysql" or "none"
	MySQLDSN     string
	TrunkContext string

	// WebSocket timing
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AMIHost:        getEnv("AMI_HOST", "127.0.0.1"),
		AMIPort:        getEnv("AMI_PORT", "5038"),
		AMIUsername:    getEnv("AMI_USERNAME", "admin"),
		AMISecret:      getEnv("AMI_SECRET", ""),
		StoreMode:      getEnv("STORE_MODE", "none"),
		MySQLDSN:       getEnv("MYSQL_DSN", ""),
		TrunkContext:   getEnv("TRUNK_CONTEXT", "from-voip-provider"),
	}

	if config.StoreMode != "mysql" && config.StoreMode != "none" {
		return nil, fmt.Errorf("invalid STORE_MODE %q: must be mysql or none", config.StoreMode)
	}
	if config.StoreMode == "mysql" && config.MySQLDSN == "" {
		return nil, fmt.Errorf("STORE_MODE=mysql requires MYSQL_DSN")
	}

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
