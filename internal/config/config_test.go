package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.SendFilePath == "" {
		t.Error("SendFilePath should not be empty")
	}
	if cfg.TargetAddress != "" {
		t.Errorf("TargetAddress = %q, want empty until configured", cfg.TargetAddress)
	}
	if cfg.Driver != "bluez" {
		t.Errorf("Driver = %q, want %q", cfg.Driver, "bluez")
	}
	if cfg.Adapter != "hci0" {
		t.Errorf("Adapter = %q, want %q", cfg.Adapter, "hci0")
	}
	if cfg.Watch.Pattern != "*.zip" {
		t.Errorf("Watch.Pattern = %q, want %q", cfg.Watch.Pattern, "*.zip")
	}
	if cfg.Lister.Command != "unzip" {
		t.Errorf("Lister.Command = %q, want %q", cfg.Lister.Command, "unzip")
	}
	if len(cfg.Lister.Args) != 1 || cfg.Lister.Args[0] != "-l" {
		t.Errorf("Lister.Args = %v, want [-l]", cfg.Lister.Args)
	}
	if cfg.Lister.Timeout != 30*time.Second {
		t.Errorf("Lister.Timeout = %v, want 30s", cfg.Lister.Timeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
send_file_path: /tmp/outgoing.txt
target_address: "AA:BB:CC:DD:EE:FF"
driver: loopback
adapter: hci1
watch:
  dir: /tmp/downloads
  pattern: "*.tar.gz"
  settle: 1s
lister:
  command: tar
  args: ["-tzf"]
  timeout: 5s
  retries: 3
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SendFilePath != "/tmp/outgoing.txt" {
		t.Errorf("SendFilePath = %q, want %q", cfg.SendFilePath, "/tmp/outgoing.txt")
	}
	if cfg.TargetAddress != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("TargetAddress = %q, want %q", cfg.TargetAddress, "AA:BB:CC:DD:EE:FF")
	}
	if cfg.Driver != "loopback" {
		t.Errorf("Driver = %q, want %q", cfg.Driver, "loopback")
	}
	if cfg.Adapter != "hci1" {
		t.Errorf("Adapter = %q, want %q", cfg.Adapter, "hci1")
	}
	if cfg.Watch.Dir != "/tmp/downloads" {
		t.Errorf("Watch.Dir = %q, want %q", cfg.Watch.Dir, "/tmp/downloads")
	}
	if cfg.Watch.Pattern != "*.tar.gz" {
		t.Errorf("Watch.Pattern = %q, want %q", cfg.Watch.Pattern, "*.tar.gz")
	}
	if cfg.Watch.Settle != time.Second {
		t.Errorf("Watch.Settle = %v, want 1s", cfg.Watch.Settle)
	}
	if cfg.Lister.Command != "tar" || len(cfg.Lister.Args) != 1 || cfg.Lister.Args[0] != "-tzf" {
		t.Errorf("Lister = %+v, want tar -tzf", cfg.Lister)
	}
	if cfg.Lister.Timeout != 5*time.Second {
		t.Errorf("Lister.Timeout = %v, want 5s", cfg.Lister.Timeout)
	}
	if cfg.Lister.Retries != 3 {
		t.Errorf("Lister.Retries = %d, want 3", cfg.Lister.Retries)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	yamlContent := `
target_address: "00:11:22:33:44:55"
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Watch.Pattern != "*.zip" {
		t.Errorf("Watch.Pattern = %q, want default %q", cfg.Watch.Pattern, "*.zip")
	}
	if cfg.Lister.Command != "unzip" {
		t.Errorf("Lister.Command = %q, want default %q", cfg.Lister.Command, "unzip")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
send_file_path: ~/outgoing/test.txt
watch:
  dir: ~/Downloads
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(home, "outgoing/test.txt"); cfg.SendFilePath != want {
		t.Errorf("SendFilePath = %q, want %q", cfg.SendFilePath, want)
	}
	if want := filepath.Join(home, "Downloads"); cfg.Watch.Dir != want {
		t.Errorf("Watch.Dir = %q, want %q", cfg.Watch.Dir, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("watch: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "valid target address",
			modify:  func(c *Config) { c.TargetAddress = "aa:bb:cc:dd:ee:ff" },
			wantErr: false,
		},
		{
			name:    "invalid target address",
			modify:  func(c *Config) { c.TargetAddress = "not-a-mac" },
			wantErr: true,
		},
		{
			name:    "eight octet address",
			modify:  func(c *Config) { c.TargetAddress = "00:00:5e:00:53:01:02:03" },
			wantErr: true,
		},
		{
			name:    "empty send file path",
			modify:  func(c *Config) { c.SendFilePath = "" },
			wantErr: true,
		},
		{
			name:    "invalid driver",
			modify:  func(c *Config) { c.Driver = "invalid" },
			wantErr: true,
		},
		{
			name:    "bluez without adapter",
			modify:  func(c *Config) { c.Adapter = "" },
			wantErr: true,
		},
		{
			name:    "loopback without adapter",
			modify:  func(c *Config) { c.Driver = "loopback"; c.Adapter = "" },
			wantErr: false,
		},
		{
			name:    "empty watch dir",
			modify:  func(c *Config) { c.Watch.Dir = "" },
			wantErr: true,
		},
		{
			name:    "invalid watch pattern",
			modify:  func(c *Config) { c.Watch.Pattern = "[unclosed" },
			wantErr: true,
		},
		{
			name:    "negative settle",
			modify:  func(c *Config) { c.Watch.Settle = -time.Second },
			wantErr: true,
		},
		{
			name:    "empty lister command",
			modify:  func(c *Config) { c.Lister.Command = "" },
			wantErr: true,
		},
		{
			name:    "zero lister timeout",
			modify:  func(c *Config) { c.Lister.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative retries",
			modify:  func(c *Config) { c.Lister.Retries = -1 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "testopp", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# testopp") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Watch.Pattern != "*.zip" {
		t.Errorf("written config Watch.Pattern = %q, want %q", cfg.Watch.Pattern, "*.zip")
	}
	if cfg.Lister.Timeout != 30*time.Second {
		t.Errorf("written config Lister.Timeout = %v, want 30s", cfg.Lister.Timeout)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "testopp")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("driver: loopback\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
