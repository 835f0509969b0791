// Package config loads CLI configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the fieldmend CLI.
type Config struct {
	DatabaseURL string
	RedisURL    string
	RulesPath   string
	ModelDir    string
	ProjectRoot string
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is merged in first,
// without overriding already-set variables.
func Load() (*Config, error) {
	godotenv.Load()

	projectRoot, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	cfg := &Config{
		DatabaseURL: getEnv("FIELDMEND_DATABASE_URL", "postgres://localhost:5432/fieldmend?sslmode=disable"),
		RedisURL:    getEnv("FIELDMEND_REDIS_URL", "redis://localhost:6379/0"),
		RulesPath:   getEnv("FIELDMEND_RULES_PATH", "rules.yaml"),
		ModelDir:    getEnv("FIELDMEND_MODEL_DIR", "models"),
		ProjectRoot: getEnv("FIELDMEND_PROJECT_ROOT", projectRoot),
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
