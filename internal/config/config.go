// Package config loads the agent configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the agent's runtime configuration.
type Config struct {
	// BaseURL is the ride platform API root, e.g. https://ride.big-matrix.com.
	BaseURL string `validate:"required,url"`

	// ListenAddr is where the local control API listens.
	ListenAddr string `validate:"required"`

	// StateDir holds the credential store database.
	StateDir string `validate:"required"`

	// LogPath enables file logging with rotation when non-empty.
	LogPath string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `validate:"oneof=debug info warn error"`

	// RateLimitPerSecond caps control API requests per client burst window.
	RateLimitPerSecond float64 `validate:"gt=0"`

	// RateLimitBurst is the token bucket size for the control API.
	RateLimitBurst int `validate:"gt=0"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present but is not required.
func Load() (*Config, error) {
	// Ignore the error: a missing .env file simply means plain env vars.
	_ = godotenv.Load()

	cfg := &Config{
		BaseURL:            os.Getenv("SOS_API_BASE_URL"),
		ListenAddr:         getEnv("SOS_LISTEN_ADDR", "127.0.0.1:8470"),
		StateDir:           getEnv("SOS_STATE_DIR", "./data"),
		LogPath:            os.Getenv("SOS_LOG_PATH"),
		LogLevel:           getEnv("SOS_LOG_LEVEL", "info"),
		RateLimitPerSecond: getEnvFloat("SOS_RATE_LIMIT_PER_SECOND", 20),
		RateLimitBurst:     getEnvInt("SOS_RATE_LIMIT_BURST", 40),
		ShutdownTimeout:    getEnvDuration("SOS_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
