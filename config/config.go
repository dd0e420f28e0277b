package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"

	"roomdrop/identity"
	"roomdrop/models"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "roomdrop"
	// DefaultGatewayURL is the coordination backend used when no override exists.
	DefaultGatewayURL = "http://localhost:8787"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
	// downloadsDirName holds accepted transfer payloads.
	downloadsDirName = "files"
)

// DeviceConfig contains persistent local-device settings.
type DeviceConfig struct {
	DeviceID   string            `json:"device_id"`
	DeviceName string            `json:"device_name"`
	DeviceType models.DeviceType `json:"device_type"`
	Username   string            `json:"username"`
	GatewayURL string            `json:"gateway_url"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If ROOMDROP_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("ROOMDROP_DATA_DIR"); override != "" {
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

// DownloadsDir returns the directory accepted transfers are saved under.
func DownloadsDir(dataDir string) string {
	return filepath.Join(dataDir, downloadsDirName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		DownloadsDir(dataDir),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *DeviceConfig) error {
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

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*DeviceConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig() *DeviceConfig {
	cfg := &DeviceConfig{
		DeviceID:   uuid.NewString(),
		DeviceType: detectDeviceType(),
		Username:   identity.GenerateUsername(),
		GatewayURL: DefaultGatewayURL,
	}
	cfg.DeviceName = defaultDeviceName()
	return cfg
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "Roomdrop Device"
}

func detectDeviceType() models.DeviceType {
	switch runtime.GOOS {
	case "darwin":
		return models.DeviceTypeLaptop
	case "android", "ios":
		return models.DeviceTypeMobile
	default:
		return models.DeviceTypeDesktop
	}
}

func normalizeDefaults(cfg *DeviceConfig) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}

	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName()
		updated = true
	}

	if !models.ValidDeviceType(cfg.DeviceType) {
		cfg.DeviceType = detectDeviceType()
		updated = true
	}

	if cfg.Username == "" {
		cfg.Username = identity.GenerateUsername()
		updated = true
	}

	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
		updated = true
	}

	return updated
}
