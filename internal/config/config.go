package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/bluetti-ble/internal/device"
	"github.com/chaz8081/bluetti-ble/internal/writer"
)

// Config holds all application configuration.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Write      WriteConfig      `yaml:"write"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Scan       ScanConfig       `yaml:"scan"`
	LogLevel   string           `yaml:"log_level"`
}

// DeviceConfig names the power station commands go to by default.
type DeviceConfig struct {
	Address    string `yaml:"address"`
	Type       string `yaml:"type"` // e.g. "EL10"
	Encryption bool   `yaml:"encryption"`
}

// WriteConfig bounds a single write.
type WriteConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
}

// EncryptionConfig overrides the handshake key.
type EncryptionConfig struct {
	LocalKey string `yaml:"local_key"` // hex, 16 bytes; empty uses the firmware default
}

// ScanConfig holds discovery settings.
type ScanConfig struct {
	Duration time.Duration `yaml:"duration"` // 0 stops at the first device
	Filter   string        `yaml:"filter"`   // regex on the advertised name
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "bluetti-ble")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	w := writer.DefaultConfig()
	return &Config{
		Write: WriteConfig{
			Timeout:         w.Timeout,
			DiscoverTimeout: w.DiscoverTimeout,
			ConnectAttempts: w.ConnectAttempts,
			SettleDelay:     w.SettleDelay,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// WriteDefault writes the default config to DefaultConfigPath. It returns
// ("", nil) without touching anything if the file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	header := "# bluetti-ble configuration\n# device.type is one of: " + strings.Join(device.Models(), ", ") + "\n"
	if err := os.WriteFile(path, append([]byte(header), body...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Type != "" {
		if _, err := device.Lookup(c.Device.Type); err != nil {
			return fmt.Errorf("device.type: %w", err)
		}
	}

	if c.Write.Timeout <= 0 {
		return fmt.Errorf("write.timeout must be > 0")
	}
	if c.Write.DiscoverTimeout <= 0 {
		return fmt.Errorf("write.discover_timeout must be > 0")
	}
	if c.Write.ConnectAttempts < 1 {
		return fmt.Errorf("write.connect_attempts must be >= 1")
	}
	if c.Write.SettleDelay < 0 {
		return fmt.Errorf("write.settle_delay must not be negative")
	}

	if _, err := c.LocalKey(); err != nil {
		return err
	}

	if c.Scan.Duration < 0 {
		return fmt.Errorf("scan.duration must not be negative")
	}
	if c.Scan.Filter != "" {
		if _, err := regexp.Compile(c.Scan.Filter); err != nil {
			return fmt.Errorf("scan.filter: %w", err)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// LocalKey decodes encryption.local_key. A nil key means the firmware default.
func (c *Config) LocalKey() ([]byte, error) {
	if c.Encryption.LocalKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Encryption.LocalKey)
	if err != nil {
		return nil, fmt.Errorf("encryption.local_key must be hex: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("encryption.local_key must be 16 bytes, got %d", len(key))
	}
	return key, nil
}

// WriterConfig maps the write settings onto writer.Config.
func (c *Config) WriterConfig() writer.Config {
	w := writer.DefaultConfig()
	w.Timeout = c.Write.Timeout
	w.UseEncryption = c.Device.Encryption
	w.DiscoverTimeout = c.Write.DiscoverTimeout
	w.ConnectAttempts = c.Write.ConnectAttempts
	w.SettleDelay = c.Write.SettleDelay
	return w
}

// ParseLogLevel maps a log_level string to a slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
