package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.POFP.BaseURL = "https://git.example.com"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("expected valid config to pass validation, got: %v", err)
	}
}

func TestValidate_MissingBaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.POFP.BaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for missing base_url")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "VERBOSE"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("expected an 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_MissingStorePath(t *testing.T) {
	cfg := validConfig()
	cfg.RBOP.StorePath = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for missing rbop store_path")
	}
}

func TestValidate_ObjectStoreRootMustDifferFromTempDir(t *testing.T) {
	cfg := validConfig()
	cfg.POFP.TempDir = cfg.POFP.ObjectStoreRoot

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error when object_store_root equals temp_dir")
	}
}

func TestValidate_MetricsEnabledRequiresListenAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error when metrics enabled without listen_addr")
	}
}

func TestValidate_NegativeCommitDepth(t *testing.T) {
	cfg := validConfig()
	cfg.POFP.CommitDepth = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for negative commit_depth")
	}
}
