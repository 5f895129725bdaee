package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sundial-cal/sundial/internal/holidays"
)

var (
	ErrMissingConfig     = errors.New("missing required configuration")
	ErrInvalidConfig     = errors.New("invalid configuration value")
	ErrEncryptionKeySize = errors.New("encryption key must be exactly 32 bytes (64 hex characters)")
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Security SecurityConfig
	Database DatabaseConfig
	Sync     SyncConfig
	Holidays HolidayConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	EncryptionKey   []byte
	AllowPrivateIPs bool
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string
}

// SyncConfig holds sync scheduling configuration. An Interval of zero
// disables the background scheduler; sync then runs only on demand.
type SyncConfig struct {
	Interval   time.Duration
	Standalone bool
}

// HolidayConfig holds holiday subscription feeds.
type HolidayConfig struct {
	Feeds []holidays.Feed
}

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load() //nolint:errcheck // Intentionally ignore - .env file is optional

	cfg := &Config{}

	port, err := getEnvInt("PORT", 8037)
	if err != nil {
		return nil, fmt.Errorf("%w: PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Server.Port = port

	encKeyHex := os.Getenv("ENCRYPTION_KEY")
	if encKeyHex == "" {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY", ErrMissingConfig)
	}
	encKey, err := hex.DecodeString(encKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY: invalid hex: %w", ErrInvalidConfig, err)
	}
	if len(encKey) != 32 {
		return nil, ErrEncryptionKeySize
	}
	cfg.Security.EncryptionKey = encKey

	allowPrivate, err := getEnvBool("ALLOW_PRIVATE_IPS", true)
	if err != nil {
		return nil, fmt.Errorf("%w: ALLOW_PRIVATE_IPS: %w", ErrInvalidConfig, err)
	}
	cfg.Security.AllowPrivateIPs = allowPrivate

	cfg.Database.Path = getEnv("DATABASE_PATH", "./data/sundial.db")

	intervalSec, err := getEnvInt("SYNC_INTERVAL", 300)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_INTERVAL: %w", ErrInvalidConfig, err)
	}
	if intervalSec < 0 {
		return nil, fmt.Errorf("%w: SYNC_INTERVAL: must not be negative", ErrInvalidConfig)
	}
	cfg.Sync.Interval = time.Duration(intervalSec) * time.Second

	standalone, err := getEnvBool("STANDALONE", false)
	if err != nil {
		return nil, fmt.Errorf("%w: STANDALONE: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.Standalone = standalone

	feeds, err := parseFeeds(os.Getenv("HOLIDAY_FEEDS"))
	if err != nil {
		return nil, fmt.Errorf("%w: HOLIDAY_FEEDS: %w", ErrInvalidConfig, err)
	}
	cfg.Holidays.Feeds = feeds

	return cfg, nil
}

// parseFeeds parses the HOLIDAY_FEEDS value: comma-separated entries of the
// form name|url or name|url|#RRGGBB.
func parseFeeds(value string) ([]holidays.Feed, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	var feeds []holidays.Feed
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("malformed feed entry %q", entry)
		}
		feed := holidays.Feed{
			Name: strings.TrimSpace(parts[0]),
			URL:  strings.TrimSpace(parts[1]),
		}
		if feed.Name == "" || feed.URL == "" {
			return nil, fmt.Errorf("malformed feed entry %q", entry)
		}
		if len(parts) == 3 {
			feed.Color = strings.TrimSpace(parts[2])
		}
		feeds = append(feeds, feed)
	}
	return feeds, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvBool returns the boolean value of an environment variable or a default.
func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid boolean: %w", err)
	}
	return parsed, nil
}
