// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for all databases (always absolute)
	BackendURL   string // Execution backend REST endpoint
	BackendWSURL string // Optional websocket endpoint for job status events; empty disables the stream
	LogLevel     string
	Port         int
	DevMode      bool // Use the in-process simulator instead of the remote backend

	// Execution defaults
	Shots          int
	PollInterval   time.Duration
	ResultTimeout  time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration

	// Analysis thresholds
	DecayRateThreshold float64
	SSEThreshold       float64
	PlateauWindow      int
	PlateauTolerance   float64

	// Cron schedule for the pending-job result sync
	SyncSchedule string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("PULSEKIT_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		BackendURL:   getEnv("PULSEKIT_BACKEND_URL", "http://localhost:9700"),
		BackendWSURL: getEnv("PULSEKIT_BACKEND_WS_URL", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Port:         getEnvAsInt("PULSEKIT_PORT", 8010),
		DevMode:      getEnvAsBool("DEV_MODE", false),

		Shots:          getEnvAsInt("PULSEKIT_SHOTS", 4096),
		PollInterval:   getEnvAsDuration("PULSEKIT_POLL_INTERVAL", 5*time.Second),
		ResultTimeout:  getEnvAsDuration("PULSEKIT_RESULT_TIMEOUT", 30*time.Minute),
		RetryAttempts:  getEnvAsInt("PULSEKIT_RETRY_ATTEMPTS", 4),
		RetryBaseDelay: getEnvAsDuration("PULSEKIT_RETRY_BASE_DELAY", 500*time.Millisecond),

		DecayRateThreshold: getEnvAsFloat("PULSEKIT_DECAY_RATE_THRESHOLD", 0.05),
		SSEThreshold:       getEnvAsFloat("PULSEKIT_SSE_THRESHOLD", 0.0008),
		PlateauWindow:      getEnvAsInt("PULSEKIT_PLATEAU_WINDOW", 4),
		PlateauTolerance:   getEnvAsFloat("PULSEKIT_PLATEAU_TOLERANCE", 1e-4),

		SyncSchedule: getEnv("PULSEKIT_SYNC_SCHEDULE", "*/1 * * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if !c.DevMode && c.BackendURL == "" {
		return fmt.Errorf("PULSEKIT_BACKEND_URL is required outside dev mode")
	}
	if c.Shots <= 0 {
		return fmt.Errorf("PULSEKIT_SHOTS must be positive, got %d", c.Shots)
	}
	if c.DecayRateThreshold <= 0 {
		return fmt.Errorf("PULSEKIT_DECAY_RATE_THRESHOLD must be positive, got %g", c.DecayRateThreshold)
	}
	if c.SSEThreshold <= 0 {
		return fmt.Errorf("PULSEKIT_SSE_THRESHOLD must be positive, got %g", c.SSEThreshold)
	}
	if c.PlateauWindow < 2 {
		return fmt.Errorf("PULSEKIT_PLATEAU_WINDOW must be at least 2, got %d", c.PlateauWindow)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
