package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	SendFilePath  string       `yaml:"send_file_path"`
	TargetAddress string       `yaml:"target_address"`
	Driver        string       `yaml:"driver"`  // "bluez" or "loopback"
	Adapter       string       `yaml:"adapter"` // BlueZ adapter name, e.g. "hci0"
	Watch         WatchConfig  `yaml:"watch"`
	Lister        ListerConfig `yaml:"lister"`
	LogLevel      string       `yaml:"log_level"`
}

// WatchConfig holds download watcher settings.
type WatchConfig struct {
	Dir     string        `yaml:"dir"`
	Pattern string        `yaml:"pattern"`
	Settle  time.Duration `yaml:"settle"` // quiet period after a change before scanning
}

// ListerConfig holds the external archive lister invocation.
type ListerConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "testopp")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	downloads := filepath.Join(home, "Downloads")

	return &Config{
		SendFilePath:  filepath.Join(downloads, "testfile.txt"),
		TargetAddress: "",
		Driver:        "bluez",
		Adapter:       "hci0",
		Watch: WatchConfig{
			Dir:     downloads,
			Pattern: "*.zip",
			Settle:  250 * time.Millisecond,
		},
		Lister: ListerConfig{
			Command: "unzip",
			Args:    []string{"-l"},
			Timeout: 30 * time.Second,
			Retries: 1,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in send_file_path and watch.dir is expanded to the
// user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.SendFilePath = expandTilde(cfg.SendFilePath)
	cfg.Watch.Dir = expandTilde(cfg.Watch.Dir)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the written path, or "" if a file already
// existed.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	header := "# testopp configuration\n# driver: bluez | loopback; target_address: peer MAC (see `testopp scan`)\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.SendFilePath == "" {
		return fmt.Errorf("send_file_path must not be empty")
	}

	if c.TargetAddress != "" {
		hw, err := net.ParseMAC(c.TargetAddress)
		if err != nil || len(hw) != 6 {
			return fmt.Errorf("target_address must be a Bluetooth address like AA:BB:CC:DD:EE:FF, got %q", c.TargetAddress)
		}
	}

	switch c.Driver {
	case "bluez", "loopback":
	default:
		return fmt.Errorf("driver must be \"bluez\" or \"loopback\", got %q", c.Driver)
	}

	if c.Driver == "bluez" && c.Adapter == "" {
		return fmt.Errorf("adapter must not be empty for the bluez driver")
	}

	if c.Watch.Dir == "" {
		return fmt.Errorf("watch.dir must not be empty")
	}

	if c.Watch.Pattern == "" {
		return fmt.Errorf("watch.pattern must not be empty")
	}

	if !doublestar.ValidatePattern(c.Watch.Pattern) {
		return fmt.Errorf("watch.pattern is not a valid glob: %q", c.Watch.Pattern)
	}

	if c.Watch.Settle < 0 {
		return fmt.Errorf("watch.settle must be >= 0")
	}

	if c.Lister.Command == "" {
		return fmt.Errorf("lister.command must not be empty")
	}

	if c.Lister.Timeout <= 0 {
		return fmt.Errorf("lister.timeout must be > 0")
	}

	if c.Lister.Retries < 0 {
		return fmt.Errorf("lister.retries must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level string to a slog.Level. Unknown values map to Info.
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
