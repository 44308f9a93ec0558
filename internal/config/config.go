// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
)

// Config holds all environment-driven settings.
type Config struct {
	Port        string
	DataDir     string
	GitHubToken string
	SyncWorkers int
	DefaultDays int
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		DataDir:     getEnvOrDefault("DATA_DIR", "./data"),
		GitHubToken: os.Getenv("GITHUB_TOKEN"),
		SyncWorkers: getEnvIntOrDefault("SYNC_WORKERS", 4),
		DefaultDays: getEnvIntOrDefault("LOOKBACK_DAYS_DEFAULT", 90),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
