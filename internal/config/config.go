package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL       string
	HTTPAddr          string
	PollInterval      time.Duration // how often idle workers re-check the queue
	WorkerConcurrency int
	MaxAttempts       int           // retry ceiling per job
	BackoffBase       time.Duration // first retry delay, doubled each attempt
	ShutdownTimeout   time.Duration

	// Provider base URL overrides, mainly for tests and sandboxes.
	ShopifyAPIVersion string
	MetaBaseURL       string
	ShiprocketBaseURL string

	LogLevel string
	Env      string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		DatabaseURL:       dbURL,
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		PollInterval:      getDurationSeconds("POLL_INTERVAL", 5),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 2),
		MaxAttempts:       getInt("MAX_ATTEMPTS", 3),
		BackoffBase:       getDurationSeconds("BACKOFF_BASE", 2),
		ShutdownTimeout:   getDurationSeconds("SHUTDOWN_TIMEOUT", 30),
		ShopifyAPIVersion: getEnv("SHOPIFY_API_VERSION", "2023-10"),
		MetaBaseURL:       getEnv("META_BASE_URL", "https://graph.facebook.com/v18.0"),
		ShiprocketBaseURL: getEnv("SHIPROCKET_BASE_URL", "https://apiv2.shiprocket.in/v1/external"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Env:               getEnv("APP_ENV", "development"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Printf("Warning: invalid value for %s: %q, using default %d\n", key, v, fallback)
		return fallback
	}
	return n
}

func getDurationSeconds(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Second
}
