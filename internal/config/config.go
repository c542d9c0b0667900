// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool
	// AllowedOrigins are the dashboard origins allowed by CORS and the websocket handshake
	AllowedOrigins []string

	JWT         JWTConfig
	Publishing  PublishingConfig
	Analysis    AnalysisConfig
	Archive     ArchiveConfig
	Maintenance MaintenanceConfig
}

// JWTConfig holds bearer token settings
type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

// PublishingConfig holds the knobs of the publishing orchestrator
type PublishingConfig struct {
	// AbsoluteDailyCap overrides any profile cap that is larger. 0 disables it.
	AbsoluteDailyCap int
	// TickerTimeout bounds the generate+publish sequence of one ticker.
	TickerTimeout      time.Duration
	PublishMaxAttempts int
	PublishBackoffBase time.Duration
	PublishBackoffMax  time.Duration
	// TickerDelay is the pause between two tickers of the same profile.
	TickerDelay time.Duration
	// PauseCheckInterval bounds how long a pause/cancel waits during TickerDelay.
	PauseCheckInterval time.Duration
	ProgressThrottle   time.Duration
	HeartbeatInterval  time.Duration
	// AutoResumeInterrupted resumes runs left running by a previous process.
	AutoResumeInterrupted bool
}

// AnalysisConfig holds report generator settings
type AnalysisConfig struct {
	YahooBaseURL string
	HistoryRange string
	// PriceCacheTTL is how long fetched price history is reused. 0 disables the cache.
	PriceCacheTTL time.Duration
}

// ArchiveConfig holds S3-compatible (Cloudflare R2) archive settings
type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	Schedule        string
}

// MaintenanceConfig holds retention settings
type MaintenanceConfig struct {
	RetentionDays   int
	CleanupSchedule string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("AUTOPUBLISH_DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", ""),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Publishing: PublishingConfig{
			AbsoluteDailyCap:      getEnvAsInt("ABSOLUTE_DAILY_CAP", 0),
			TickerTimeout:         getEnvAsDuration("TICKER_TIMEOUT", 3*time.Minute),
			PublishMaxAttempts:    getEnvAsInt("PUBLISH_MAX_ATTEMPTS", 3),
			PublishBackoffBase:    getEnvAsDuration("PUBLISH_BACKOFF_BASE", 2*time.Second),
			PublishBackoffMax:     getEnvAsDuration("PUBLISH_BACKOFF_MAX", 30*time.Second),
			TickerDelay:           getEnvAsDuration("TICKER_DELAY", 0),
			PauseCheckInterval:    getEnvAsDuration("PAUSE_CHECK_INTERVAL", time.Second),
			ProgressThrottle:      getEnvAsDuration("PROGRESS_THROTTLE", 250*time.Millisecond),
			HeartbeatInterval:     getEnvAsDuration("HEARTBEAT_INTERVAL", 5*time.Second),
			AutoResumeInterrupted: getEnvAsBool("AUTO_RESUME_INTERRUPTED", false),
		},
		Analysis: AnalysisConfig{
			YahooBaseURL: getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
			HistoryRange: getEnv("PRICE_HISTORY_RANGE", "6mo"),

			PriceCacheTTL: getEnvAsDuration("PRICE_CACHE_TTL", 15*time.Minute),
		},
		Archive: ArchiveConfig{
			Enabled:         getEnvAsBool("ARCHIVE_ENABLED", false),
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("ARCHIVE_PREFIX", "ticker-results"),
			Schedule:        getEnv("ARCHIVE_SCHEDULE", "0 15 0 * * *"),
		},
		Maintenance: MaintenanceConfig{
			RetentionDays:   getEnvAsInt("RESULT_RETENTION_DAYS", 90),
			CleanupSchedule: getEnv("CLEANUP_SCHEDULE", "0 30 0 * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and sane
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		if !c.DevMode {
			return fmt.Errorf("JWT_SECRET is required outside dev mode")
		}
		c.JWT.Secret = "dev-secret-do-not-use-in-production"
	}

	p := c.Publishing
	if p.AbsoluteDailyCap < 0 {
		return fmt.Errorf("ABSOLUTE_DAILY_CAP must be >= 0, got %d", p.AbsoluteDailyCap)
	}
	if p.TickerTimeout <= 0 {
		return fmt.Errorf("TICKER_TIMEOUT must be positive")
	}
	if p.PublishMaxAttempts < 1 {
		return fmt.Errorf("PUBLISH_MAX_ATTEMPTS must be >= 1, got %d", p.PublishMaxAttempts)
	}
	if p.PublishBackoffBase <= 0 || p.PublishBackoffMax < p.PublishBackoffBase {
		return fmt.Errorf("publish backoff must satisfy 0 < base <= max")
	}
	if p.PauseCheckInterval <= 0 {
		return fmt.Errorf("PAUSE_CHECK_INTERVAL must be positive")
	}
	if p.TickerDelay < 0 || p.ProgressThrottle < 0 || p.HeartbeatInterval < 0 || c.Analysis.PriceCacheTTL < 0 {
		return fmt.Errorf("delays and intervals must not be negative")
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("ARCHIVE_BUCKET is required when archiving is enabled")
	}
	if c.Maintenance.RetentionDays < 1 {
		return fmt.Errorf("RESULT_RETENTION_DAYS must be >= 1")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
