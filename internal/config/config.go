package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"gwi.com/coach-client/internal/logger"
)

type Config struct {
	APIBaseURL  string
	DatabaseURL string
	HTTPTimeout time.Duration
	LogLevel    string

	// Dev server only.
	HTTPPort     string
	JWTSecret    string
	GeminiAPIKey string
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Logger.Debug("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		APIBaseURL:   getEnv("COACH_API_URL", "http://localhost:8080"),
		DatabaseURL:  getEnv("COACH_DB_PATH", "coach_client.db"),
		HTTPTimeout:  time.Duration(getEnvAsInt("COACH_HTTP_TIMEOUT", 30)) * time.Second,
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the client settings. Dev server settings are checked by
// ValidateServer.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("COACH_API_URL must be an absolute URL, got %q", c.APIBaseURL)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("COACH_DB_PATH cannot be empty")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("COACH_HTTP_TIMEOUT must be > 0")
	}
	return nil
}

func (c *Config) ValidateServer() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
