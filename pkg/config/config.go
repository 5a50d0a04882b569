package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Ingest        IngestConfig
	Schedule      ScheduleConfig
	Observability ObservabilityConfig
	Log           LogConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	CORSOrigins        []string
	MaxUploadBytes     int64
	ShutdownTimeout    time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type IngestConfig struct {
	Root         string
	InboxDir     string
	ProcessedDir string
	ErrorsDir    string
	ProvidersDir string
	Workers      int
	// Locale of monthly reports: "eu" (1.234,56) or "us" (1,234.56)
	Locale string
	// SkipZeroActivity is "auto", "true" or "false"; auto skips for pivot reports only
	SkipZeroActivity string
	// MatchMode is "exact" or "contains"
	MatchMode       string
	Delimiter       string
	FileTimeout     time.Duration
	RequireContract bool
	// WriteRatePerSecond throttles ledger writes; zero disables the throttle
	WriteRatePerSecond int
	// DefaultKind and DefaultOwnerID apply to inbox files that are not provider reports
	DefaultKind    string
	DefaultOwnerID string
}

type ScheduleConfig struct {
	Enabled bool
	// Spec is a standard 5-field cron expression
	Spec string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPath    string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 10),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 20),
			CORSOrigins:        getEnvAsList("SERVER_CORS_ORIGINS", []string{"http://localhost:3000"}),
			MaxUploadBytes:     int64(getEnvAsInt("SERVER_MAX_UPLOAD_MB", 32)) << 20,
			ShutdownTimeout:    getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("POSTGRES_HOST", "localhost"),
			Port:            getEnvAsInt("POSTGRES_PORT", 5432),
			User:            getEnv("POSTGRES_USER", "postgres"),
			Password:        getEnv("POSTGRES_PASSWORD", "postgres"),
			Database:        getEnv("POSTGRES_DB", "billing"),
			SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns:        getEnvAsInt("POSTGRES_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("POSTGRES_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("POSTGRES_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("POSTGRES_MAX_CONN_IDLE_TIME", 10*time.Minute),
		},
		Ingest: IngestConfig{
			Root:               getEnv("INGEST_ROOT", "./reports"),
			InboxDir:           getEnv("INGEST_INBOX_DIR", ""),
			ProcessedDir:       getEnv("INGEST_PROCESSED_DIR", ""),
			ErrorsDir:          getEnv("INGEST_ERRORS_DIR", ""),
			ProvidersDir:       getEnv("INGEST_PROVIDERS_DIR", ""),
			Workers:            getEnvAsInt("INGEST_WORKERS", 4),
			Locale:             getEnv("INGEST_LOCALE", "eu"),
			SkipZeroActivity:   getEnv("INGEST_SKIP_ZERO_ACTIVITY", "auto"),
			MatchMode:          getEnv("INGEST_PROVIDER_MATCH", "exact"),
			Delimiter:          getEnv("INGEST_CSV_DELIMITER", ""),
			FileTimeout:        getEnvAsDuration("INGEST_FILE_TIMEOUT", 10*time.Minute),
			RequireContract:    getEnvAsBool("INGEST_REQUIRE_CONTRACT", false),
			WriteRatePerSecond: getEnvAsInt("INGEST_WRITE_RATE_PER_SECOND", 0),
			DefaultKind:        getEnv("INGEST_DEFAULT_KIND", ""),
			DefaultOwnerID:     getEnv("INGEST_DEFAULT_OWNER_ID", ""),
		},
		Schedule: ScheduleConfig{
			Enabled: getEnvAsBool("SCHEDULE_ENABLED", false),
			Spec:    getEnv("SCHEDULE_SPEC", "*/15 * * * *"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPath:    getEnv("METRICS_PATH", "/metrics"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the services cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Ingest.Workers < 1 {
		errs = append(errs, fmt.Errorf("INGEST_WORKERS must be at least 1, got %d", c.Ingest.Workers))
	}
	switch strings.ToLower(c.Ingest.Locale) {
	case "eu", "us":
	default:
		errs = append(errs, fmt.Errorf("INGEST_LOCALE must be eu or us, got %q", c.Ingest.Locale))
	}
	switch strings.ToLower(c.Ingest.MatchMode) {
	case "exact", "contains":
	default:
		errs = append(errs, fmt.Errorf("INGEST_PROVIDER_MATCH must be exact or contains, got %q", c.Ingest.MatchMode))
	}
	switch strings.ToLower(c.Ingest.SkipZeroActivity) {
	case "auto", "true", "false":
	default:
		errs = append(errs, fmt.Errorf("INGEST_SKIP_ZERO_ACTIVITY must be auto, true or false, got %q", c.Ingest.SkipZeroActivity))
	}
	if d := c.Ingest.Delimiter; d != "" && d != `\t` && len([]rune(d)) != 1 {
		errs = append(errs, fmt.Errorf("INGEST_CSV_DELIMITER must be a single character, got %q", d))
	}
	if c.Ingest.WriteRatePerSecond < 0 {
		errs = append(errs, errors.New("INGEST_WRITE_RATE_PER_SECOND must not be negative"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("SERVER_MAX_UPLOAD_MB must be positive"))
	}
	if c.Schedule.Enabled && strings.TrimSpace(c.Schedule.Spec) == "" {
		errs = append(errs, errors.New("SCHEDULE_SPEC is required when the schedule is enabled"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DelimiterRune returns the configured CSV delimiter, or zero to detect it
func (c *IngestConfig) DelimiterRune() rune {
	switch c.Delimiter {
	case "":
		return 0
	case `\t`:
		return '\t'
	}
	return []rune(c.Delimiter)[0]
}

// SkipZero returns the configured zero-activity policy, nil meaning per report kind
func (c *IngestConfig) SkipZero() *bool {
	switch strings.ToLower(c.SkipZeroActivity) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	}
	return nil
}

// SlogLevel parses the configured log level
func (c *LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
