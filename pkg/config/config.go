// Package config implements cnabflow's configuration: a YAML file,
// environment-variable overrides, and coded defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/cnabflow/internal/bytesize"
)

// Config is cnabflow's top-level configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (CNABFLOW_<SECTION>_<KEY>), for keys the
//     configuration file sets
//  2. Configuration file (YAML)
//  3. Default values, for any field left at its zero value
//
// When no configuration file is found, Load returns the defaults and does
// not read environment variables. No key is bound to a CLI flag.
type Config struct {
	Pipeline    PipelineConfig    `mapstructure:"pipeline" yaml:"pipeline"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" yaml:"object_store"`
	API         APIConfig         `mapstructure:"api" yaml:"api"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// PipelineConfig controls the worker pool, checkpointing, and recovery sweep.
type PipelineConfig struct {
	// ParallelWorkers is the number of worker goroutines consuming the queue.
	ParallelWorkers int `mapstructure:"parallel_workers" validate:"min=1,max=64" yaml:"parallel_workers"`

	// CheckpointInterval is how many processed lines elapse between checkpoint writes.
	CheckpointInterval int `mapstructure:"checkpoint_interval" validate:"min=1" yaml:"checkpoint_interval"`

	// MaxRetryPerLine bounds the per-line retry budget before a line is marked Failed.
	MaxRetryPerLine int `mapstructure:"max_retry_per_line" validate:"min=0" yaml:"max_retry_per_line"`

	// RetryDelayMs is the base backoff between line retries.
	RetryDelayMs int `mapstructure:"retry_delay_ms" validate:"min=0" yaml:"retry_delay_ms"`

	// RecoveryCheckInterval is the ticker period for the stuck-upload sweeper.
	RecoveryCheckInterval time.Duration `mapstructure:"recovery_check_interval" validate:"required,gt=0" yaml:"recovery_check_interval"`

	// StuckUploadTimeout is the age threshold an incomplete upload must cross
	// before the sweeper considers it abandoned.
	StuckUploadTimeout time.Duration `mapstructure:"stuck_upload_timeout" validate:"required,gt=0" yaml:"stuck_upload_timeout"`

	// MaxFileSize bounds the accepted upload size.
	MaxFileSize bytesize.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size"`

	// AllowedExtension is the only file extension intake accepts.
	AllowedExtension string `mapstructure:"allowed_extension" validate:"required" yaml:"allowed_extension"`

	// QueueGroupName is the consumer-group name the worker pool joins.
	QueueGroupName string `mapstructure:"queue_group_name" validate:"required" yaml:"queue_group_name"`

	// LockTTL is the lease length of the per-upload distributed lock; the
	// holder renews the lease every LockTTL/3 while it processes the upload.
	LockTTL time.Duration `mapstructure:"lock_ttl" validate:"required,gt=0" yaml:"lock_ttl"`
}

// DatabaseType selects the storage backend.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// DatabaseConfig configures the pipeline's single logical database.
type DatabaseConfig struct {
	Type DatabaseType `mapstructure:"type" validate:"required,oneof=sqlite postgres" yaml:"type"`

	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`

	// AutoMigrate makes startup run GORM AutoMigrate against a postgres
	// database. SQLite databases are auto-migrated whatever its value; the
	// embedded SQL migrations run only through the migrate command.
	AutoMigrate bool `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

// SQLiteConfig configures the no-cgo SQLite backend used for local/dev/test.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig configures the production PostgreSQL backend.
type PostgresConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
	Database     string `mapstructure:"database" yaml:"database"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode      string `mapstructure:"sslmode" yaml:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// DSN renders the libpq connection string for this configuration.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode)
}

// ObjectStoreConfig configures the S3-compatible object-store gateway.
type ObjectStoreConfig struct {
	Bucket         string `mapstructure:"bucket" validate:"required" yaml:"bucket"`
	Region         string `mapstructure:"region" yaml:"region"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	KeyPrefix      string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
	MaxRetries     int    `mapstructure:"max_retries" validate:"min=0" yaml:"max_retries"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Port         int           `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate enforces the struct-tag constraints on cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// SaveConfig writes cfg to path in YAML form.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("CNABFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cnabflow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "cnabflow")
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
