// Package config loads admitflow settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/anggasct/admitflow"
)

// Environment variable prefix
const prefix = "ADMITFLOW_"

// Config holds the daemon settings
type Config struct {
	DatabaseURL string

	Storage        string `validate:"oneof=local gcs"`
	StorageDir     string `validate:"required_if=Storage local"`
	GCSBucket      string `validate:"required_if=Storage gcs"`
	GCSPrefix      string
	GCSCredentials string

	RedisURL string `validate:"omitempty,url"`

	BlockedAfter     time.Duration `validate:"gt=0"`
	SweepSchedule    string        `validate:"required"`
	RetrySchedule    string        `validate:"required"`
	RetryMaxAttempts int           `validate:"gte=1"`
	NotifyWorkers    int           `validate:"gte=1"`

	// PreValidationSchedule drives the batch pre-validation of new applications
	PreValidationSchedule string `validate:"required"`

	LogLevel string `validate:"oneof=debug info warn error"`

	Validation ValidationConfig
}

var validate = validator.New()

// Load reads .env (when present) and the environment, then validates the result
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:      getEnv("DB_URL", ""),
		Storage:          strings.ToLower(getEnv("STORAGE", "local")),
		StorageDir:       getEnv("STORAGE_DIR", "./data/documents"),
		GCSBucket:        getEnv("GCS_BUCKET", ""),
		GCSPrefix:        getEnv("GCS_PREFIX", "documents"),
		GCSCredentials:   getEnv("GCS_CREDENTIALS", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		BlockedAfter:     getDuration("BLOCKED_AFTER", 48*time.Hour),
		SweepSchedule:    getEnv("SWEEP_SCHEDULE", "*/15 * * * *"),
		RetrySchedule:    getEnv("RETRY_SCHEDULE", "*/5 * * * *"),
		RetryMaxAttempts: getInt("RETRY_MAX_ATTEMPTS", 5),
		NotifyWorkers:    getInt("NOTIFY_WORKERS", 4),

		PreValidationSchedule: getEnv("PREVALIDATION_SCHEDULE", "@every 1m"),

		LogLevel:   strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Validation: loadValidation(),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, admitflow.NewConfigurationError("config", describe(err))
	}
	return cfg, nil
}

// SlogLevel maps LogLevel onto a slog level
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(prefix + key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(prefix + key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(prefix + key); ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(prefix + key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(prefix + key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

// getList splits a comma separated value, lower-cases and trims each entry
func getList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(prefix + key)
	if !ok || strings.TrimSpace(value) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func describe(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok {
		parts := make([]string, 0, len(errs))
		for _, fe := range errs {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}
