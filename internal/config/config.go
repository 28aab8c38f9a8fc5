package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	LogLevel         string `mapstructure:"LOG_LEVEL"`

	// Store of record
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	BadgerDBPath string `mapstructure:"BADGERDB_PATH"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	TxMaxRetries int    `mapstructure:"TX_MAX_RETRIES"`

	// Search index
	SearchDBPath    string `mapstructure:"SEARCH_DB_PATH"`
	SearchBatchSize int    `mapstructure:"SEARCH_BATCH_SIZE"`

	// Archive store
	ArchiveBackend string `mapstructure:"ARCHIVE_BACKEND"`
	ArchiveDir     string `mapstructure:"ARCHIVE_DIR"`
	MinIOEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinIOAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinIOBucket    string `mapstructure:"MINIO_BUCKET"`
	MinIOUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`

	// Locking; an empty RedisAddr keeps locks in process.
	RedisAddr string        `mapstructure:"REDIS_ADDR"`
	LockTTL   time.Duration `mapstructure:"LOCK_TTL"`

	CleanupWorkers     int           `mapstructure:"CLEANUP_WORKERS"`
	CleanupQueueSize   int           `mapstructure:"CLEANUP_QUEUE_SIZE"`
	CleanupTaskTimeout time.Duration `mapstructure:"CLEANUP_TASK_TIMEOUT"`

	CaptureTimeout time.Duration `mapstructure:"CAPTURE_TIMEOUT"`
	MetricsAddr    string        `mapstructure:"METRICS_ADDR"`
}

const (
	StoreBadger   = "badger"
	StorePostgres = "postgres"

	ArchiveFS    = "fs"
	ArchiveMinIO = "minio"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("STORE_BACKEND", StoreBadger)
	v.SetDefault("BADGERDB_PATH", "./badger_data")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("TX_MAX_RETRIES", 10)

	v.SetDefault("SEARCH_DB_PATH", "./search.db")
	v.SetDefault("SEARCH_BATCH_SIZE", 500)

	v.SetDefault("ARCHIVE_BACKEND", ArchiveFS)
	v.SetDefault("ARCHIVE_DIR", "./archives_data")
	v.SetDefault("MINIO_ENDPOINT", "")
	v.SetDefault("MINIO_ACCESS_KEY", "")
	v.SetDefault("MINIO_SECRET_KEY", "")
	v.SetDefault("MINIO_BUCKET", "linkvault")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("LOCK_TTL", "30s")

	v.SetDefault("CLEANUP_WORKERS", 2)
	v.SetDefault("CLEANUP_QUEUE_SIZE", 256)
	v.SetDefault("CLEANUP_TASK_TIMEOUT", "30s")

	v.SetDefault("CAPTURE_TIMEOUT", "60s")
	v.SetDefault("METRICS_ADDR", ":9090")
}

// LoadConfig reads configuration from file or environment variables.
// Environment variables take precedence over config.yaml in path.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	err = v.ReadInConfig()
	if err != nil {
		// A missing file is fine, env vars may carry everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}

	c.StoreBackend = strings.ToLower(c.StoreBackend)
	switch c.StoreBackend {
	case StoreBadger:
		if c.BadgerDBPath == "" {
			return fmt.Errorf("BADGERDB_PATH is not set")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %s", StorePostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	c.ArchiveBackend = strings.ToLower(c.ArchiveBackend)
	switch c.ArchiveBackend {
	case ArchiveFS:
		if c.ArchiveDir == "" {
			return fmt.Errorf("ARCHIVE_DIR is not set")
		}
	case ArchiveMinIO:
		if c.MinIOEndpoint == "" || c.MinIOBucket == "" {
			return fmt.Errorf("MINIO_ENDPOINT and MINIO_BUCKET are required when ARCHIVE_BACKEND is %s", ArchiveMinIO)
		}
	default:
		return fmt.Errorf("unknown ARCHIVE_BACKEND %q", c.ArchiveBackend)
	}

	if c.TxMaxRetries <= 0 {
		return fmt.Errorf("TX_MAX_RETRIES must be positive, got %d", c.TxMaxRetries)
	}
	if c.CleanupWorkers <= 0 {
		return fmt.Errorf("CLEANUP_WORKERS must be positive, got %d", c.CleanupWorkers)
	}
	return nil
}
