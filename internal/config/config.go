package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	// Server settings
	ServerPort         string
	Environment        string
	CORSAllowedOrigins []string

	// Database settings
	DBDriver   string
	DBDSN      string
	DBMaxConns int

	// OpenTelemetry settings
	OTelEnabled  bool
	OTLPEndpoint string
	ServiceName  string
}

// Load returns configuration from environment variables with sensible
// defaults. A .env file in the working directory is read first if present;
// variables already set in the environment win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		DBDriver:           getEnv("DB_DRIVER", "sqlite"),
		DBDSN:              getEnv("DB_DSN", "checklist.db"),
		DBMaxConns:         getEnvInt("DB_MAX_CONNS", 10),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", true),
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		ServiceName:        getEnv("OTEL_SERVICE_NAME", "checklist-api"),
	}
}

// IsDevelopment reports whether internal error details may be exposed.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
