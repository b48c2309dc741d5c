// Package config reads the engine configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"frame-fulfillment/backoff"
)

// Config is everything main needs to wire the engine.
type Config struct {
	ServerAddr     string
	DatabaseURL    string
	RedisAddr      string
	ProdigiBaseURL string
	ProdigiAPIKey  string
	PollInterval   time.Duration
	Backoff        backoff.Policy
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() Config {
	return Config{
		ServerAddr:     envString("SERVER_ADDR", ":8080"),
		DatabaseURL:    envString("DATABASE_URL", "postgres://localhost:5432/fulfillment?sslmode=disable"),
		RedisAddr:      envString("REDIS_ADDR", "localhost:6379"),
		ProdigiBaseURL: envString("PRODIGI_BASE_URL", "https://api.prodigi.com"),
		ProdigiAPIKey:  os.Getenv("PRODIGI_API_KEY"),
		PollInterval:   envDuration("POLL_INTERVAL", 5*time.Second),
		Backoff: backoff.Policy{
			BaseDelay:  envDuration("BASE_DELAY", backoff.DefaultBaseDelay),
			MaxDelay:   envDuration("MAX_DELAY", backoff.DefaultMaxDelay),
			Multiplier: envFloat("BACKOFF_MULTIPLIER", backoff.DefaultMultiplier),
			MaxRetries: envInt("MAX_RETRIES", backoff.DefaultMaxRetries),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
