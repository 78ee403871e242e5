package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config holds application configuration values loaded from environment variables.
type Config struct {
	HTTPPort        string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string

	DatabaseDriver string
	DatabaseURL    string // postgres
	SQLitePath     string
	AutoMigrate    bool

	LLMProvider      string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIBaseURL    string
	OpenAIAPIKey     string
	DefaultModel     string
	UpstreamTimeout  time.Duration

	PacedModel string
	PaceEvery  int
	PaceDelay  time.Duration

	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables.
// It looks for a .env file first, then checks actual environment variables.
// Every invalid or missing setting is reported in the returned error.
func LoadConfig() (*Config, error) {
	// Missing .env is normal outside development.
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		HTTPPort:         getEnv("HTTP_PORT", "8000"),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "*")),
		DatabaseDriver:   strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		SQLitePath:       getEnv("SQLITE_PATH", "claude_chat.db"),
		LLMProvider:      strings.ToLower(getEnv("LLM_PROVIDER", ProviderAnthropic)),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		DefaultModel:     getEnv("DEFAULT_MODEL", "claude-sonnet-4-20250514"),
		PacedModel:       getEnv("PACED_MODEL", "claude-opus-4-20250514"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
	}

	cfg.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second, &errs)
	cfg.RequestTimeout = getDuration("REQUEST_TIMEOUT", 60*time.Second, &errs)
	cfg.UpstreamTimeout = getDuration("UPSTREAM_TIMEOUT", 10*time.Minute, &errs)
	cfg.PaceDelay = getDuration("PACE_DELAY", 10*time.Millisecond, &errs)
	cfg.PaceEvery = getInt("PACE_EVERY", 10, &errs)
	cfg.AutoMigrate = getBool("AUTO_MIGRATE", true, &errs)

	switch cfg.DatabaseDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not one of postgres, sqlite", cfg.DatabaseDriver))
	}

	switch cfg.LLMProvider {
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider"))
		}
	case ProviderOpenAI:
		if cfg.OpenAIBaseURL == "" && cfg.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_BASE_URL or OPENAI_API_KEY is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER %q is not one of anthropic, openai", cfg.LLMProvider))
	}

	if cfg.PaceEvery < 0 {
		errs = append(errs, fmt.Errorf("PACE_EVERY must not be negative, got %d", cfg.PaceEvery))
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not one of json, console", cfg.LogFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value.
// An empty variable counts as unset.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return fallback
	}
	return d
}

func getInt(key string, fallback int, errs *[]error) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return fallback
	}
	return n
}

func getBool(key string, fallback bool, errs *[]error) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return fallback
	}
	return b
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
