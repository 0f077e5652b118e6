// Package config loads, defaults, and validates gitvfsd's runtime
// configuration: GitLock polling, RBOP durability/drain tuning, POFP
// pipeline sizing, logging, and metrics.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig controls the level-gated logger in internal/logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// GitLockConfig controls the non-blocking mutual-exclusion token RBOP
// acquires before draining the queue.
type GitLockConfig struct {
	AcquirePollInterval time.Duration `mapstructure:"acquire_poll_interval" validate:"omitempty,gt=0"`
}

// RBOPConfig controls the durable store and the single-consumer drain
// loop built on top of it.
type RBOPConfig struct {
	StorePath              string        `mapstructure:"store_path" validate:"required"`
	DrainPollInterval      time.Duration `mapstructure:"drain_poll_interval" validate:"omitempty,gt=0"`
	AcquisitionLockTimeout time.Duration `mapstructure:"acquisition_lock_timeout" validate:"omitempty,gt=0"`
	ProgressLogInterval    int           `mapstructure:"progress_log_interval" validate:"omitempty,gt=0"`
}

// POFPConfig controls the download/index/checkout pipeline and the
// retryable HTTP client feeding it.
type POFPConfig struct {
	BaseURL                   string        `mapstructure:"base_url" validate:"required,url"`
	FetchWorkers              int           `mapstructure:"fetch_workers" validate:"omitempty,gt=0"`
	ChunkSize                 int           `mapstructure:"chunk_size" validate:"omitempty,gt=0"`
	CommitDepth               int           `mapstructure:"commit_depth" validate:"omitempty,gte=0"`
	PreferBatchedLooseObjects bool          `mapstructure:"prefer_batched_loose_objects"`
	MaxAttempts               int           `mapstructure:"max_attempts" validate:"omitempty,gt=0"`
	BackoffBase               float64       `mapstructure:"backoff_base" validate:"omitempty,gte=0"`
	RequestsPerSecond         uint          `mapstructure:"requests_per_second" validate:"omitempty,gt=0"`
	Burst                     uint          `mapstructure:"burst" validate:"omitempty,gt=0"`
	HeartbeatInterval         time.Duration `mapstructure:"heartbeat_interval" validate:"omitempty,gt=0"`
	TempDir                   string        `mapstructure:"temp_dir" validate:"required"`
	ObjectStoreRoot           string        `mapstructure:"object_store_root" validate:"required"`
	SweepInterval             time.Duration `mapstructure:"sweep_interval" validate:"omitempty,gt=0"`
	SweepMaxAge               time.Duration `mapstructure:"sweep_max_age" validate:"omitempty,gt=0"`
}

// MetricsConfig controls the optional Prometheus registry and its HTTP
// exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" validate:"omitempty,hostname_port"`
}

// Config is the root configuration for gitvfsd.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	GitLock GitLockConfig `mapstructure:"gitlock"`
	RBOP    RBOPConfig    `mapstructure:"rbop"`
	POFP    POFPConfig    `mapstructure:"pofp"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

const envPrefix = "GITVFSD"

// Load reads configuration from an optional YAML file at configPath (if
// non-empty), environment variables prefixed GITVFSD_, applies defaults
// to zero-valued fields, and validates the result.
//
// An empty configPath falls back to the default config location. A
// missing file, whether at that location or at an explicit configPath,
// is not an error — defaults and environment variables carry the whole
// configuration in that case.
func Load(configPath string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("gitvfsd")
		v.SetConfigType("yaml")
		v.AddConfigPath(getConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: read config file: %w", err)
		}
	}
	return nil
}

func getConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "gitvfsd")
	}
	return "."
}

// GetDefaultConfigPath returns the path Load uses when configPath is
// empty and a config file is present there, for diagnostic output.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "gitvfsd.yaml")
}
