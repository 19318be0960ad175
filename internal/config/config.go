package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DatabaseURL        string
	ServerPort         string
	BaseURL            string
	RedisURL           string
	RabbitMQURL        string
	JWKSUrl            string
	JWTIssuer          string
	SessionCookieName  string
	CacheTTL           time.Duration
	CacheDisabled      bool
	DefaultCountryCode string
	RateLimit          string
	AllowedOrigins     string
	EnableHSTS         bool
	ServerDebugMode    bool
	OTELEnabled        bool
	OTELEndpoint       string
}

// Load loads configuration from environment variables. A local .env file is
// honored when present so development does not need exported shell state.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RabbitMQURL:        getEnv("RABBITMQ_URL", ""),
		JWKSUrl:            getEnv("JWKS_URL", ""),
		JWTIssuer:          getEnv("JWT_ISSUER", ""),
		SessionCookieName:  getEnv("SESSION_COOKIE_NAME", "idcore_session"),
		CacheTTL:           getEnvDuration("CREDENTIAL_CACHE_TTL", 5*time.Minute),
		CacheDisabled:      getEnvBool("CREDENTIAL_CACHE_DISABLED", false),
		DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "34"),
		RateLimit:          getEnv("AUTH_RATE_LIMIT", "10-M"),
		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", ""),
		EnableHSTS:         getEnvBool("ENABLE_HSTS", false),
		ServerDebugMode:    getEnvBool("SERVER_DEBUG_MODE", false),
		OTELEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWKSUrl == "" || cfg.JWTIssuer == "" {
		return nil, fmt.Errorf("JWKS_URL and JWT_ISSUER are required for bearer token verification")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
