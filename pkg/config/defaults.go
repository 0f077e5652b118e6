package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults fills zero-valued fields of cfg with sane defaults, one
// section at a time.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyGitLockDefaults(&cfg.GitLock)
	applyRBOPDefaults(&cfg.RBOP)
	applyPOFPDefaults(&cfg.POFP)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	} else {
		cfg.Level = strings.ToUpper(cfg.Level)
	}
}

func applyGitLockDefaults(cfg *GitLockConfig) {
	if cfg.AcquirePollInterval == 0 {
		cfg.AcquirePollInterval = 50 * time.Millisecond
	}
}

func applyRBOPDefaults(cfg *RBOPConfig) {
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(defaultStateDir(), "rbop")
	}
	if cfg.DrainPollInterval == 0 {
		cfg.DrainPollInterval = 50 * time.Millisecond
	}
	if cfg.AcquisitionLockTimeout == 0 {
		cfg.AcquisitionLockTimeout = 10 * time.Millisecond
	}
	if cfg.ProgressLogInterval == 0 {
		cfg.ProgressLogInterval = 25_000
	}
}

func applyPOFPDefaults(cfg *POFPConfig) {
	if cfg.FetchWorkers == 0 {
		cfg.FetchWorkers = 8
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 32
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 2
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 16
	}
	if cfg.Burst == 0 {
		cfg.Burst = 16
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 20 * time.Second
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(defaultStateDir(), "pofp", "tmp")
	}
	if cfg.ObjectStoreRoot == "" {
		cfg.ObjectStoreRoot = filepath.Join(defaultStateDir(), "pofp", "objects")
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.SweepMaxAge == 0 {
		cfg.SweepMaxAge = time.Hour
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:9090"
	}
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "gitvfsd")
	}
	return ".gitvfsd"
}

// GetDefaultConfig returns a Config with every section defaulted, for
// callers that want to run without a config file or environment
// overrides at all (besides POFP.BaseURL, which has no sane default and
// which Validate still requires to be set explicitly).
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
