package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "clipdrop"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CLIPDROP"
	// DefaultListenAddress is the loopback address the engine host streams callbacks to.
	DefaultListenAddress = "127.0.0.1:47321"
	// DefaultReconcileWorkers bounds concurrent sandbox-to-public copies.
	DefaultReconcileWorkers = 2
	// MaxReconcileWorkers is the largest accepted worker pool.
	MaxReconcileWorkers = 16
	// DefaultCopyBufferSize is the chunk size used when copying out of the sandbox.
	DefaultCopyBufferSize = 8192
	// DefaultMaxRenameAttempts bounds the "(N)" collision suffix search.
	DefaultMaxRenameAttempts = 1000
	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

var validate = validator.New()

// AppConfig contains persistent local settings.
type AppConfig struct {
	DeviceID          string `json:"device_id" validate:"required,uuid"`
	DeviceName        string `json:"device_name" validate:"required,max=128"`
	SandboxDir        string `json:"sandbox_dir" validate:"required"`
	PublicDir         string `json:"public_dir" validate:"required,nefield=SandboxDir"`
	ListenAddress     string `json:"listen_address" validate:"required,hostname_port"`
	ReconcileWorkers  int    `json:"reconcile_workers" validate:"min=1,max=16"`
	CopyBufferSize    int    `json:"copy_buffer_size" validate:"min=512,max=16777216"`
	MaxRenameAttempts int    `json:"max_rename_attempts" validate:"min=1,max=100000"`
	VerifyCopies      *bool  `json:"verify_copies,omitempty"`
	HistoryEnabled    *bool  `json:"history_enabled,omitempty"`
	LogLevel          string `json:"log_level" validate:"oneof=trace debug info warn warning error"`
}

// EnvOverrides are read from CLIPDROP_* variables and win over config.json.
// They are applied in memory only and never persisted.
type EnvOverrides struct {
	SandboxDir     string `envconfig:"SANDBOX_DIR"`
	PublicDir      string `envconfig:"PUBLIC_DIR"`
	ListenAddress  string `envconfig:"LISTEN_ADDRESS"`
	Workers        int    `envconfig:"WORKERS"`
	VerifyCopies   *bool  `envconfig:"VERIFY_COPIES"`
	HistoryEnabled *bool  `envconfig:"HISTORY_ENABLED"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
}

// VerifyEnabled reports whether reconciled copies are digest-checked. Default true.
func (c *AppConfig) VerifyEnabled() bool {
	return c.VerifyCopies == nil || *c.VerifyCopies
}

// HistoryOn reports whether settled transfers are persisted. Default true.
func (c *AppConfig) HistoryOn() bool {
	return c.HistoryEnabled == nil || *c.HistoryEnabled
}

// Validate checks field constraints.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If CLIPDROP_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(EnvPrefix + "_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout and the
// configured sandbox and public directories.
func EnsureDataDirectories(dataDir string, cfg *AppConfig) error {
	dirs := []string{dataDir}
	if cfg != nil {
		dirs = append(dirs, cfg.SandboxDir, cfg.PublicDir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *AppConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, applies environment
// overrides and validates the result.
func LoadOrCreate() (*AppConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir, nil); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir, cfg); err != nil {
		return nil, "", err
	}

	return cfg, cfgPath, nil
}

// ApplyEnv overlays CLIPDROP_* environment variables onto cfg.
func ApplyEnv(cfg *AppConfig) error {
	var overrides EnvOverrides
	if err := envconfig.Process(EnvPrefix, &overrides); err != nil {
		return fmt.Errorf("read environment overrides: %w", err)
	}

	if overrides.SandboxDir != "" {
		cfg.SandboxDir = overrides.SandboxDir
	}
	if overrides.PublicDir != "" {
		cfg.PublicDir = overrides.PublicDir
	}
	if overrides.ListenAddress != "" {
		cfg.ListenAddress = overrides.ListenAddress
	}
	if overrides.Workers != 0 {
		cfg.ReconcileWorkers = overrides.Workers
	}
	if overrides.VerifyCopies != nil {
		cfg.VerifyCopies = overrides.VerifyCopies
	}
	if overrides.HistoryEnabled != nil {
		cfg.HistoryEnabled = overrides.HistoryEnabled
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(overrides.LogLevel)
	}
	return nil
}

func defaultConfig(dataDir string) *AppConfig {
	cfg := &AppConfig{}
	normalizeDefaults(cfg, dataDir)
	return cfg
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "ClipDrop Device"
}

func defaultPublicDir(dataDir string) string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "Downloads", "ClipDrop")
	}
	return filepath.Join(dataDir, "public")
}

func normalizeDefaults(cfg *AppConfig, dataDir string) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}

	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName()
		updated = true
	}

	if cfg.SandboxDir == "" {
		cfg.SandboxDir = filepath.Join(dataDir, "sandbox")
		updated = true
	}

	if cfg.PublicDir == "" {
		cfg.PublicDir = defaultPublicDir(dataDir)
		updated = true
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
		updated = true
	}

	if cfg.ReconcileWorkers <= 0 {
		cfg.ReconcileWorkers = DefaultReconcileWorkers
		updated = true
	}
	if cfg.ReconcileWorkers > MaxReconcileWorkers {
		cfg.ReconcileWorkers = MaxReconcileWorkers
		updated = true
	}

	if cfg.CopyBufferSize <= 0 {
		cfg.CopyBufferSize = DefaultCopyBufferSize
		updated = true
	}

	if cfg.MaxRenameAttempts <= 0 {
		cfg.MaxRenameAttempts = DefaultMaxRenameAttempts
		updated = true
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}

	return updated
}
