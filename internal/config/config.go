package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	RedisPrefix        string
	AdminToken         string
	CORSAllowedOrigins []string

	FulfillmentConfigFile string

	ErrorReportURL       string
	ErrorReportSecret    string
	ErrorReportTimeout   time.Duration
	ErrorReportReplayTTL time.Duration

	ReadyInterval       time.Duration
	FulfillingInterval  time.Duration
	StockLevelsInterval time.Duration
	LockTTL             time.Duration

	QueueVisibilityTimeout time.Duration
	QueueMaxAttempts       int
	QueueRetryBase         time.Duration
	QueueDedupTTL          time.Duration

	ProviderTimeout     time.Duration
	ProviderMaxAttempts int
	ProviderBackoff     time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	TracingEndpoint  string
	TracingSampling  float64
	ServiceName      string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		RedisPrefix:        valueOrDefault(k.String("REDIS_PREFIX"), "toko"),
		AdminToken:         strings.TrimSpace(k.String("ADMIN_TOKEN")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		FulfillmentConfigFile: valueOrDefault(k.String("FULFILLMENT_CONFIG_FILE"), "config/fulfillment.yml"),

		ErrorReportURL:       strings.TrimSpace(k.String("ERROR_REPORT_URL")),
		ErrorReportSecret:    k.String("ERROR_REPORT_SECRET"),
		ErrorReportTimeout:   parseDuration(k.String("ERROR_REPORT_TIMEOUT"), "5s"),
		ErrorReportReplayTTL: parseDuration(k.String("ERROR_REPORT_REPLAY_TTL"), "10m"),

		ReadyInterval:       parseDuration(k.String("SCHEDULE_READY_INTERVAL"), "1m"),
		FulfillingInterval:  parseDuration(k.String("SCHEDULE_FULFILLING_INTERVAL"), "5m"),
		StockLevelsInterval: parseDuration(k.String("SCHEDULE_STOCK_LEVELS_INTERVAL"), "1h"),
		LockTTL:             parseDuration(k.String("FULFILLMENT_LOCK_TTL"), "15m"),

		QueueVisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "20m"),
		QueueMaxAttempts:       parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 3),
		QueueRetryBase:         parseDuration(k.String("QUEUE_RETRY_BASE"), "5s"),
		QueueDedupTTL:          parseDuration(k.String("QUEUE_DEDUP_TTL"), "10m"),

		ProviderTimeout:     parseDuration(k.String("PROVIDER_TIMEOUT"), "10s"),
		ProviderMaxAttempts: parseInt(k.String("PROVIDER_MAX_ATTEMPTS"), 3),
		ProviderBackoff:     parseDuration(k.String("PROVIDER_BACKOFF"), "200ms"),
		BreakerMinRequests:  parseInt(k.String("BREAKER_MIN_REQUESTS"), 10),
		BreakerFailureRatio: parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "toko"),
		MetricsBuckets:   k.String("OBS_METRICS_BUCKETS"),
		TracingEnabled:   parseBool(k.String("OBS_TRACING_ENABLED")),
		TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		TracingEndpoint:  k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLE_RATIO"), 0.1),
		ServiceName:      valueOrDefault(k.String("OTEL_SERVICE_NAME"), "toko-fulfillment"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.QueueMaxAttempts < 1 {
		return nil, errors.New("QUEUE_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.BreakerFailureRatio <= 0 || cfg.BreakerFailureRatio > 1 {
		return nil, errors.New("BREAKER_FAILURE_RATIO must be in (0, 1]")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

// parseDuration accepts Go durations; "0" and "off" disable the setting.
func parseDuration(value, fallback string) time.Duration {
	base := strings.ToLower(strings.TrimSpace(value))
	switch base {
	case "":
		base = fallback
	case "0", "off", "disabled":
		return 0
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
