// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (idempotency ledger)
	RedisURL string `koanf:"redis_url"`

	// Payment gateway
	GatewayBaseURL        string `koanf:"gateway_base_url"`
	GatewayShopID         string `koanf:"gateway_shop_id"`
	GatewaySecretKey      string `koanf:"gateway_secret_key"`
	GatewayTimeoutSeconds int    `koanf:"gateway_timeout_seconds"`

	// Idempotency
	IdempotencyTTLHours int `koanf:"idempotency_ttl_hours"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporterType string  `koanf:"tracing_exporter_type"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL      = errors.New("DATABASE_URL is required")
	ErrMissingRedisURL         = errors.New("REDIS_URL is required")
	ErrMissingGatewayBaseURL   = errors.New("GATEWAY_BASE_URL is required")
	ErrMissingGatewayShopID    = errors.New("GATEWAY_SHOP_ID is required")
	ErrMissingGatewaySecretKey = errors.New("GATEWAY_SECRET_KEY is required")
	ErrInvalidInteger          = errors.New("value must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                  = 8080
	DefaultEnv                   = "development"
	DefaultGatewayTimeoutSeconds = 35
	DefaultIdempotencyTTLHours   = 24
	DefaultTracingSamplingRate   = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	gatewayTimeout, timeoutErr := getEnvIntOrDefault("GATEWAY_TIMEOUT_SECONDS", k.Int("gateway_timeout_seconds"), DefaultGatewayTimeoutSeconds)
	if timeoutErr != nil {
		loadErrs = append(loadErrs, timeoutErr)
	}

	ttlHours, ttlErr := getEnvIntOrDefault("IDEMPOTENCY_TTL_HOURS", k.Int("idempotency_ttl_hours"), DefaultIdempotencyTTLHours)
	if ttlErr != nil {
		loadErrs = append(loadErrs, ttlErr)
	}

	samplingRate, samplingErr := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	if samplingErr != nil {
		loadErrs = append(loadErrs, samplingErr)
	}

	cfg := &Config{
		Port:                  port,
		Env:                   getEnvOrDefault("ENV", k.String("env"), DefaultEnv),
		DatabaseURL:           getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:              getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		GatewayBaseURL:        getEnvOrKoanf("GATEWAY_BASE_URL", k, "gateway_base_url"),
		GatewayShopID:         getEnvOrKoanf("GATEWAY_SHOP_ID", k, "gateway_shop_id"),
		GatewaySecretKey:      getEnvOrKoanf("GATEWAY_SECRET_KEY", k, "gateway_secret_key"),
		GatewayTimeoutSeconds: gatewayTimeout,
		IdempotencyTTLHours:   ttlHours,
		TracingEnabled:        getEnvBool("TRACING_ENABLED", k.Bool("tracing_enabled")),
		TracingExporterType:   getEnvOrKoanf("TRACING_EXPORTER_TYPE", k, "tracing_exporter_type"),
		TracingOTLPEndpoint:   getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate:   samplingRate,
		TracingInsecure:       getEnvBool("TRACING_INSECURE", k.Bool("tracing_insecure")),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvBool returns the environment variable parsed as a boolean if set,
// otherwise the koanf value. Env var takes precedence over file config.
func getEnvBool(envKey string, koanfVal bool) bool {
	val := os.Getenv(envKey)
	if val == "" {
		return koanfVal
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return koanfVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidInteger)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.RedisURL == "" {
		errs = append(errs, ErrMissingRedisURL)
	}
	if c.GatewayBaseURL == "" {
		errs = append(errs, ErrMissingGatewayBaseURL)
	}
	if c.GatewayShopID == "" {
		errs = append(errs, ErrMissingGatewayShopID)
	}
	if c.GatewaySecretKey == "" {
		errs = append(errs, ErrMissingGatewaySecretKey)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                    fmt.Sprintf("%d", c.Port),
		"env":                     c.Env,
		"database_url":            maskDatabaseURL(c.DatabaseURL),
		"redis_url":               maskDatabaseURL(c.RedisURL),
		"gateway_base_url":        c.GatewayBaseURL,
		"gateway_shop_id":         c.GatewayShopID,
		"gateway_secret_key":      maskSecret(c.GatewaySecretKey),
		"gateway_timeout_seconds": fmt.Sprintf("%d", c.GatewayTimeoutSeconds),
		"idempotency_ttl_hours":   fmt.Sprintf("%d", c.IdempotencyTTLHours),
		"tracing_enabled":         fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter_type":   c.TracingExporterType,
		"tracing_otlp_endpoint":   c.TracingOTLPEndpoint,
		"tracing_sampling_rate":   fmt.Sprintf("%g", c.TracingSamplingRate),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
