package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr    = ":8080"
	defaultNotifyAddr    = ":8090"
	defaultStoreDriver   = "sqlite"
	defaultDBPath        = "helix.db"
	defaultProvidersPath = "providers.yaml"

	envListenAddr    = "HELIX_LISTEN_ADDR"
	envNotifyAddr    = "HELIX_NOTIFY_ADDR"
	envStoreDriver   = "HELIX_STORE_DRIVER"
	envDBPath        = "HELIX_DB_PATH"
	envPostgresDSN   = "HELIX_POSTGRES_DSN"
	envProvidersPath = "HELIX_PROVIDERS_FILE"
	envLogLevel      = "HELIX_LOG_LEVEL"

	envPollInterval    = "HELIX_POLL_INTERVAL"
	envStaleness       = "HELIX_STALENESS_THRESHOLD"
	envWorkers         = "HELIX_WORKERS"
	envQueueSize       = "HELIX_QUEUE_SIZE"
	envProviderTimeout = "HELIX_PROVIDER_TIMEOUT"
	envMaxAttempts     = "HELIX_MAX_SUBMIT_ATTEMPTS"
	envBackoffBase     = "HELIX_SUBMIT_BACKOFF_BASE"

	envArchiveEndpoint  = "HELIX_ARCHIVE_ENDPOINT"
	envArchiveAccessKey = "HELIX_ARCHIVE_ACCESS_KEY"
	envArchiveSecretKey = "HELIX_ARCHIVE_SECRET_KEY"
	envArchiveRegion    = "HELIX_ARCHIVE_REGION"
	envArchiveBucket    = "HELIX_ARCHIVE_BUCKET"
	envArchiveUseSSL    = "HELIX_ARCHIVE_USE_SSL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr    string
	NotifyAddr    string
	StoreDriver   string // "sqlite" or "postgres"
	DBPath        string
	PostgresDSN   string
	ProvidersPath string
	LogLevel      slog.Level

	PollInterval       time.Duration
	StalenessThreshold time.Duration
	Workers            int
	QueueSize          int
	ProviderTimeout    time.Duration
	MaxSubmitAttempts  int
	SubmitBackoffBase  time.Duration

	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveRegion    string
	ArchiveBucket    string
	ArchiveUseSSL    bool
}

// ArchiveEnabled reports whether an object store archive was configured.
func (c Config) ArchiveEnabled() bool {
	return c.ArchiveEndpoint != ""
}

// Load reads configuration from environment variables with sensible
// defaults. Durations and integers that fail to parse are rejected rather
// than silently defaulted.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:    defaultListenAddr,
		NotifyAddr:    defaultNotifyAddr,
		StoreDriver:   defaultStoreDriver,
		DBPath:        defaultDBPath,
		ProvidersPath: defaultProvidersPath,
		LogLevel:      slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envNotifyAddr); v != "" {
		cfg.NotifyAddr = v
	}
	if v := os.Getenv(envStoreDriver); v != "" {
		cfg.StoreDriver = strings.ToLower(v)
	}
	if cfg.StoreDriver != "sqlite" && cfg.StoreDriver != "postgres" {
		return Config{}, fmt.Errorf("%s: unknown store driver %q", envStoreDriver, cfg.StoreDriver)
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	cfg.PostgresDSN = os.Getenv(envPostgresDSN)
	if cfg.StoreDriver == "postgres" && cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("%s is required with the postgres driver", envPostgresDSN)
	}
	if v := os.Getenv(envProvidersPath); v != "" {
		cfg.ProvidersPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	var err error
	if cfg.PollInterval, err = duration(envPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.StalenessThreshold, err = duration(envStaleness); err != nil {
		return Config{}, err
	}
	if cfg.ProviderTimeout, err = duration(envProviderTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SubmitBackoffBase, err = duration(envBackoffBase); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = integer(envWorkers); err != nil {
		return Config{}, err
	}
	if cfg.QueueSize, err = integer(envQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.MaxSubmitAttempts, err = integer(envMaxAttempts); err != nil {
		return Config{}, err
	}

	cfg.ArchiveEndpoint = os.Getenv(envArchiveEndpoint)
	cfg.ArchiveAccessKey = os.Getenv(envArchiveAccessKey)
	cfg.ArchiveSecretKey = os.Getenv(envArchiveSecretKey)
	cfg.ArchiveRegion = os.Getenv(envArchiveRegion)
	cfg.ArchiveBucket = os.Getenv(envArchiveBucket)
	if v := os.Getenv(envArchiveUseSSL); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envArchiveUseSSL, err)
		}
		cfg.ArchiveUseSSL = b
	}

	return cfg, nil
}

// duration parses an optional duration env var; zero means unset and lets
// the component apply its own default.
func duration(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func integer(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
