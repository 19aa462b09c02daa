package config

import (
	"strings"
	"time"

	"github.com/marmos91/cnabflow/internal/bytesize"
)

// ApplyDefaults fills in any zero-valued field with a sensible default.
// Explicit values from file/env/flags are preserved.
func ApplyDefaults(cfg *Config) {
	applyPipelineDefaults(&cfg.Pipeline)
	applyDatabaseDefaults(&cfg.Database)
	applyObjectStoreDefaults(&cfg.ObjectStore)
	applyAPIDefaults(&cfg.API)
	applyLoggingDefaults(&cfg.Logging)
}

func applyPipelineDefaults(cfg *PipelineConfig) {
	if cfg.ParallelWorkers == 0 {
		cfg.ParallelWorkers = 4
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 1000
	}
	if cfg.MaxRetryPerLine == 0 {
		cfg.MaxRetryPerLine = 3
	}
	if cfg.RetryDelayMs == 0 {
		cfg.RetryDelayMs = 500
	}
	if cfg.RecoveryCheckInterval == 0 {
		cfg.RecoveryCheckInterval = 5 * time.Minute
	}
	if cfg.StuckUploadTimeout == 0 {
		cfg.StuckUploadTimeout = 30 * time.Minute
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = bytesize.GiB
	}
	if cfg.AllowedExtension == "" {
		cfg.AllowedExtension = ".txt"
	}
	if cfg.QueueGroupName == "" {
		cfg.QueueGroupName = "cnab-ingestion"
	}
	if cfg.LockTTL == 0 {
		// Renewed at LockTTL/3 for the whole lifetime of processOne (see
		// pkg/store/lock.Locker.WithLock), so this bounds the gap a single
		// missed renewal must survive, not the worst-case file processing
		// time. 2m leaves ample slack over a single slow DB round trip.
		cfg.LockTTL = 2 * time.Minute
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Type == "" {
		cfg.Type = DatabaseTypeSQLite
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "/tmp/cnabflow/cnabflow.db"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}
}

func applyObjectStoreDefaults(cfg *ObjectStoreConfig) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "uploads/"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if !cfg.Enabled {
		cfg.Enabled = true
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// GetDefaultConfig returns a Config with all defaults applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Type:        DatabaseTypeSQLite,
			AutoMigrate: true,
		},
		ObjectStore: ObjectStoreConfig{
			Bucket: "cnabflow-uploads",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
