package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-wide settings for the runbook engine, sourced
// from the environment (and an optional .env file in development).
type Config struct {
	Port              int
	Environment       string
	LogLevel          string
	DBPath            string
	RedisAddr         string
	RedisPassword     string
	ApprovalSweepCron string
	TracingEnabled    bool
	ServiceName       string
}

// Load reads engine configuration from the environment.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	godotenv.Load()

	port := 8080
	if portStr := os.Getenv("ENGINE_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}

	tracing := true
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			tracing = b
		}
	}

	return &Config{
		Port:              port,
		Environment:       getEnv("ENVIRONMENT", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DBPath:            getEnv("ENGINE_DB_PATH", "./runbook-engine.db"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		ApprovalSweepCron: getEnv("APPROVAL_SWEEP_CRON", "@every 1m"),
		TracingEnabled:    tracing,
		ServiceName:       getEnv("SERVICE_NAME", "runbook-engine"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
