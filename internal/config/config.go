// Package config loads process configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the process needs at startup.
type Config struct {
	Port            string
	DBPath          string
	GroqAPIKey      string
	AnthropicAPIKey string
	ExtractorModel  string
	OracleModel     string
	OracleTimeout   time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	godotenv.Load()

	home, _ := os.UserHomeDir()
	defaultDB := filepath.Join(home, ".continuity", "continuity.db")

	return &Config{
		Port:            getEnv("PORT", "8080"),
		DBPath:          getEnv("CONTINUITY_DB", defaultDB),
		GroqAPIKey:      getEnv("GROQ_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		ExtractorModel:  getEnv("EXTRACTOR_MODEL", ""),
		OracleModel:     getEnv("ORACLE_MODEL", ""),
		OracleTimeout:   getEnvDuration("ORACLE_TIMEOUT", 30*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
