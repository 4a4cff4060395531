package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the mix analyzer service
type Config struct {
	// Server configuration
	Port           string
	AllowedOrigins string

	// mixanalytic.com configuration
	MixBaseURL     string
	MixUploadPath  string
	MixResultsPath string // contains a {file_id} placeholder

	// Analysis defaults
	DefaultTimeoutSeconds int

	// Rate limiting
	RateLimitPerMinute int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),

		MixBaseURL:     getEnv("MIX_BASE_URL", "https://mixanalytic.com"),
		MixUploadPath:  getEnv("MIX_UPLOAD_PATH", "/upload"),
		MixResultsPath: getEnv("MIX_RESULTS_PATH", "/api/results/{file_id}.json"),

		DefaultTimeoutSeconds: getIntEnv("DEFAULT_TIMEOUT_SECONDS", 180),

		RateLimitPerMinute: getIntEnv("RATE_LIMIT_PER_MINUTE", 60),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
