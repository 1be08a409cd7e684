// Package config loads application configuration from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Favorites storage backends
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config holds all configuration for the client
type Config struct {
	Port string `validate:"required,numeric"`

	// Catalog API
	TMDBAccessToken string  `validate:"required"`
	TMDBBaseURL     string  `validate:"required,url"`
	TMDBImageBase   string  `validate:"required,url"`
	TMDBRatePerSec  float64 `validate:"gt=0"`

	// Favorites persistence
	FavoritesBackend string `validate:"oneof=sqlite redis badger memory"`
	DatabasePath     string `validate:"required_if=FavoritesBackend sqlite"`
	RedisURL         string `validate:"required_if=FavoritesBackend redis"`
	BadgerPath       string `validate:"required_if=FavoritesBackend badger"`

	LogLevel  string `validate:"oneof=trace debug info warn error"`
	LogPretty bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		TMDBAccessToken:  strings.TrimSpace(os.Getenv("TMDB_ACCESS_TOKEN")),
		TMDBBaseURL:      strings.TrimRight(getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"), "/"),
		TMDBImageBase:    getEnv("TMDB_IMAGE_BASE", "https://image.tmdb.org/t/p/w500"),
		TMDBRatePerSec:   getEnvFloat("TMDB_RATE_PER_SEC", 20),
		FavoritesBackend: strings.ToLower(getEnv("FAVORITES_BACKEND", BackendSQLite)),
		DatabasePath:     getEnv("DATABASE_PATH", "favorites.db"),
		RedisURL:         os.Getenv("REDIS_URL"),
		BadgerPath:       os.Getenv("BADGER_PATH"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPretty:        getEnvBool("LOG_PRETTY", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for missing or malformed values
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Ignoring malformed number")
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Ignoring malformed boolean")
		return defaultValue
	}
	return b
}
