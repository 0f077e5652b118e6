package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Logging.Level = %q, want INFO", cfg.Logging.Level)
	}
}

func TestApplyDefaults_LoggingNormalizesCase(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Logging.Level = %q, want DEBUG", cfg.Logging.Level)
	}
}

func TestApplyDefaults_GitLock(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.GitLock.AcquirePollInterval != 50*time.Millisecond {
		t.Errorf("GitLock.AcquirePollInterval = %v, want 50ms", cfg.GitLock.AcquirePollInterval)
	}
}

func TestApplyDefaults_RBOP(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.RBOP.StorePath == "" {
		t.Error("RBOP.StorePath should not be empty after defaulting")
	}
	if cfg.RBOP.DrainPollInterval != 50*time.Millisecond {
		t.Errorf("RBOP.DrainPollInterval = %v, want 50ms", cfg.RBOP.DrainPollInterval)
	}
	if cfg.RBOP.AcquisitionLockTimeout != 10*time.Millisecond {
		t.Errorf("RBOP.AcquisitionLockTimeout = %v, want 10ms", cfg.RBOP.AcquisitionLockTimeout)
	}
	if cfg.RBOP.ProgressLogInterval != 25_000 {
		t.Errorf("RBOP.ProgressLogInterval = %d, want 25000", cfg.RBOP.ProgressLogInterval)
	}
}

func TestApplyDefaults_POFP(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.POFP.FetchWorkers != 8 {
		t.Errorf("POFP.FetchWorkers = %d, want 8", cfg.POFP.FetchWorkers)
	}
	if cfg.POFP.ChunkSize != 32 {
		t.Errorf("POFP.ChunkSize = %d, want 32", cfg.POFP.ChunkSize)
	}
	if cfg.POFP.MaxAttempts != 5 {
		t.Errorf("POFP.MaxAttempts = %d, want 5", cfg.POFP.MaxAttempts)
	}
	if cfg.POFP.HeartbeatInterval != 20*time.Second {
		t.Errorf("POFP.HeartbeatInterval = %v, want 20s", cfg.POFP.HeartbeatInterval)
	}
	if cfg.POFP.TempDir == cfg.POFP.ObjectStoreRoot {
		t.Error("POFP.TempDir and ObjectStoreRoot should not default to the same path")
	}
	if cfg.POFP.SweepInterval != 10*time.Minute {
		t.Errorf("POFP.SweepInterval = %v, want 10m", cfg.POFP.SweepInterval)
	}
	if cfg.POFP.SweepMaxAge != time.Hour {
		t.Errorf("POFP.SweepMaxAge = %v, want 1h", cfg.POFP.SweepMaxAge)
	}
}

func TestApplyDefaults_Metrics(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Metrics.ListenAddr == "" {
		t.Error("Metrics.ListenAddr should not be empty after defaulting")
	}
}

func TestApplyDefaults_DoesNotOverrideExplicitValues(t *testing.T) {
	cfg := &Config{POFP: POFPConfig{FetchWorkers: 64}}
	ApplyDefaults(cfg)

	if cfg.POFP.FetchWorkers != 64 {
		t.Errorf("FetchWorkers = %d, want 64 (explicit value should survive defaulting)", cfg.POFP.FetchWorkers)
	}
}
