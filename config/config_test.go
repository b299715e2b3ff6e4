package config

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CLIPDROP_DATA_DIR", tempDir)
	t.Setenv("HOME", tempDir)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.DeviceID == "" {
		t.Fatalf("expected non-empty device ID")
	}
	if firstCfg.ReconcileWorkers != DefaultReconcileWorkers {
		t.Fatalf("expected default workers %d, got %d", DefaultReconcileWorkers, firstCfg.ReconcileWorkers)
	}
	if firstCfg.CopyBufferSize != DefaultCopyBufferSize {
		t.Fatalf("expected default buffer size %d, got %d", DefaultCopyBufferSize, firstCfg.CopyBufferSize)
	}
	if firstCfg.SandboxDir != filepath.Join(tempDir, "sandbox") {
		t.Fatalf("unexpected sandbox dir %q", firstCfg.SandboxDir)
	}
	if !firstCfg.VerifyEnabled() || !firstCfg.HistoryOn() {
		t.Fatalf("expected verification and history enabled by default")
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}

	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.DeviceID != firstCfg.DeviceID {
		t.Fatalf("expected stable device ID, got %q then %q", firstCfg.DeviceID, secondCfg.DeviceID)
	}
	if secondCfg.PublicDir != firstCfg.PublicDir {
		t.Fatalf("expected stable public dir, got %q then %q", firstCfg.PublicDir, secondCfg.PublicDir)
	}
}

func TestLoadOrCreateBackfillsMissingFields(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CLIPDROP_DATA_DIR", tempDir)

	cfgPath := filepath.Join(tempDir, "config.json")
	if err := EnsureDataDirectories(tempDir, nil); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	legacy := &AppConfig{
		DeviceID:         "1b4e28ba-2fa1-11d2-883f-0016d3cca427",
		DeviceName:       "Legacy",
		PublicDir:        filepath.Join(tempDir, "out"),
		ReconcileWorkers: 64,
	}
	if err := Save(cfgPath, legacy); err != nil {
		t.Fatalf("Save legacy config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.DeviceID != legacy.DeviceID {
		t.Fatalf("expected device ID to be retained, got %q", cfg.DeviceID)
	}
	if cfg.ReconcileWorkers != MaxReconcileWorkers {
		t.Fatalf("expected workers clamped to %d, got %d", MaxReconcileWorkers, cfg.ReconcileWorkers)
	}
	if cfg.ListenAddress != DefaultListenAddress {
		t.Fatalf("expected default listen address, got %q", cfg.ListenAddress)
	}
	if cfg.MaxRenameAttempts != DefaultMaxRenameAttempts {
		t.Fatalf("expected default rename attempts, got %d", cfg.MaxRenameAttempts)
	}

	reloaded, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.SandboxDir == "" || reloaded.LogLevel != DefaultLogLevel {
		t.Fatalf("expected backfilled fields to be persisted, got %+v", reloaded)
	}
}

func TestEnvironmentOverridesAreNotPersisted(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CLIPDROP_DATA_DIR", tempDir)
	t.Setenv("HOME", tempDir)
	t.Setenv("CLIPDROP_PUBLIC_DIR", filepath.Join(tempDir, "env-public"))
	t.Setenv("CLIPDROP_WORKERS", "4")
	t.Setenv("CLIPDROP_VERIFY_COPIES", "false")
	t.Setenv("CLIPDROP_LOG_LEVEL", "DEBUG")

	cfg, cfgPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.PublicDir != filepath.Join(tempDir, "env-public") {
		t.Fatalf("expected env public dir, got %q", cfg.PublicDir)
	}
	if cfg.ReconcileWorkers != 4 {
		t.Fatalf("expected env workers 4, got %d", cfg.ReconcileWorkers)
	}
	if cfg.VerifyEnabled() {
		t.Fatalf("expected verification disabled by env")
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected lowercased log level, got %q", cfg.LogLevel)
	}

	persisted, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if persisted.PublicDir == cfg.PublicDir {
		t.Fatalf("expected env override to stay out of config.json")
	}
}

func TestLoadOrCreateRejectsInvalidEnvironment(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CLIPDROP_DATA_DIR", tempDir)
	t.Setenv("HOME", tempDir)
	t.Setenv("CLIPDROP_WORKERS", "99")

	if _, _, err := LoadOrCreate(); err == nil {
		t.Fatalf("expected validation error for 99 workers")
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	base := func() *AppConfig {
		cfg := defaultConfig(t.TempDir())
		return cfg
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate: %v", err)
	}

	cfg = base()
	cfg.DeviceID = "not-a-uuid"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid device ID error")
	}

	cfg = base()
	cfg.ListenAddress = "no-port"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid listen address error")
	}

	cfg = base()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid log level error")
	}

	cfg = base()
	cfg.PublicDir = cfg.SandboxDir
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected public dir equal to sandbox to be rejected")
	}
}
