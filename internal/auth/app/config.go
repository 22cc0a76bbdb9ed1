package app

import (
	"os"
	"strconv"
	"time"

	"github.com/meridianhq/meridian-auth/internal/auth/service"
	"github.com/meridianhq/meridian-auth/pkg/jwtx"
)

type Config struct {
	Issuer string // Issuer claim for tokens and TOTP provisioning

	SigningKeyFile string // Optional: path to an Ed25519 PKCS#8 PEM; ephemeral key if unset
	SigningKeyID   string // Optional: kid header for the signing key (default: key-1)

	DatabaseFile string // Path to SQLite database file (default: ./auth.db)
	PepperFile   string // Path to the password hashing pepper file (default: ./pepper)

	AdminEmail    string // Optional: seed an admin account on startup
	AdminPassword string // Password for the seeded admin account

	AccessTokenTTL   time.Duration // Access token lifetime (default: 15m)
	RefreshTokenTTL  time.Duration // Refresh token lifetime (default: 168h)
	MFAChallengeTTL  time.Duration // MFA challenge token lifetime (default: 5m)
	LockoutThreshold int           // Consecutive failures before lockout (default: 5)
	LockoutWindow    time.Duration // Lockout duration once tripped (default: 15m)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	TokenRetention       time.Duration // How long expired refresh rows linger (default: 720h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:         getEnvOrDefault("AUTH_ISSUER", "meridian-auth"),
		SigningKeyFile: os.Getenv("AUTH_SIGNING_KEY_FILE"),
		SigningKeyID:   getEnvOrDefault("AUTH_SIGNING_KEY_ID", "key-1"),
		DatabaseFile:   getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		PepperFile:     getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),

		AdminEmail:    os.Getenv("AUTH_ADMIN_EMAIL"),
		AdminPassword: os.Getenv("AUTH_ADMIN_PASSWORD"),

		AccessTokenTTL:   getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTokenTTL:  getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_TTL", jwtx.DefaultRefreshTokenTTL),
		MFAChallengeTTL:  getEnvDurationOrDefault("AUTH_MFA_CHALLENGE_TTL", jwtx.DefaultChallengeTTL),
		LockoutThreshold: getEnvIntOrDefault("AUTH_LOCKOUT_THRESHOLD", service.DefaultLockoutThreshold),
		LockoutWindow:    getEnvDurationOrDefault("AUTH_LOCKOUT_WINDOW", service.DefaultLockoutWindow),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		TokenRetention:       getEnvDurationOrDefault("TOKEN_RETENTION", 30*24*time.Hour),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Integer values are read as minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
