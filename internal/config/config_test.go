package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Inventory != "inventory.yaml" {
		t.Errorf("default inventory = %q, want inventory.yaml", cfg.Inventory)
	}
	if cfg.Color != "auto" {
		t.Errorf("default color = %q, want auto", cfg.Color)
	}
	if cfg.Follow.PollInterval.Duration != 100*time.Millisecond {
		t.Errorf("default poll interval = %s, want 100ms", cfg.Follow.PollInterval)
	}
	if cfg.Connect.Retries != 0 {
		t.Errorf("default retries = %d, want 0", cfg.Connect.Retries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	content := `
inventory: ~/apdb/inventory.yaml
user: cassandra
identity_files:
  - ~/.ssh/apdb_ed25519
insecure: true
color: never
connect:
  timeout: 5s
  retries: 3
  retry_delay: 250ms
follow:
  poll_interval: 50ms
`
	cfg := loadFromString(t, content)

	if cfg.Inventory != "~/apdb/inventory.yaml" {
		t.Errorf("inventory = %q", cfg.Inventory)
	}
	if cfg.User != "cassandra" {
		t.Errorf("user = %q, want cassandra", cfg.User)
	}
	if len(cfg.IdentityFiles) != 1 || cfg.IdentityFiles[0] != "~/.ssh/apdb_ed25519" {
		t.Errorf("identity_files = %v", cfg.IdentityFiles)
	}
	if !cfg.Insecure {
		t.Error("insecure should be true")
	}
	if cfg.Color != "never" {
		t.Errorf("color = %q, want never", cfg.Color)
	}
	if cfg.Connect.Timeout.Duration != 5*time.Second {
		t.Errorf("connect timeout = %s, want 5s", cfg.Connect.Timeout)
	}
	if cfg.Connect.Retries != 3 {
		t.Errorf("retries = %d, want 3", cfg.Connect.Retries)
	}
	if cfg.Connect.RetryDelay.Duration != 250*time.Millisecond {
		t.Errorf("retry delay = %s, want 250ms", cfg.Connect.RetryDelay)
	}
	if cfg.Follow.PollInterval.Duration != 50*time.Millisecond {
		t.Errorf("poll interval = %s, want 50ms", cfg.Follow.PollInterval)
	}
}

func TestDefaultValuesWhenOmitted(t *testing.T) {
	cfg := loadFromString(t, "user: ops\n")

	// Defaults should be filled in from DefaultConfig.
	if cfg.Inventory != "inventory.yaml" {
		t.Errorf("inventory = %q, want inventory.yaml", cfg.Inventory)
	}
	if cfg.Connect.Timeout.Duration != 10*time.Second {
		t.Errorf("connect timeout = %s, want 10s", cfg.Connect.Timeout)
	}
	if cfg.Follow.PollInterval.Duration != 100*time.Millisecond {
		t.Errorf("poll interval = %s, want 100ms", cfg.Follow.PollInterval)
	}
}

func TestDurationParsing(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"10s", 10 * time.Second},
		{"1m", time.Minute},
		{"2m30s", 2*time.Minute + 30*time.Second},
		{"500ms", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cfg := loadFromString(t, "connect:\n  timeout: "+tt.input+"\n")
			if got := cfg.Connect.Timeout.Duration; got != tt.want {
				t.Errorf("parsed duration = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestInvalidDuration(t *testing.T) {
	_, err := loadStringRaw("connect:\n  timeout: notaduration\n")
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"invalid color", func(c *Config) { c.Color = "rainbow" }, `color must be one of: auto, always, never, got "rainbow"`},
		{"empty inventory", func(c *Config) { c.Inventory = "" }, "inventory is required"},
		{"negative retries", func(c *Config) { c.Connect.Retries = -1 }, "connect.retries"},
		{"too many retries", func(c *Config) { c.Connect.Retries = 50 }, "connect.retries"},
		{"negative timeout", func(c *Config) { c.Connect.Timeout = Duration{-time.Second} }, "connect.timeout"},
		{"zero poll interval", func(c *Config) { c.Follow.PollInterval = Duration{} }, "follow.poll_interval"},
		{"blank identity file", func(c *Config) { c.IdentityFiles = []string{""} }, "identity_files[0] is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := loadStringRaw("color: purple\n")
	if err == nil {
		t.Fatal("expected error for invalid color")
	}
	if !strings.HasPrefix(err.Error(), "invalid config:") {
		t.Errorf("error = %q, want invalid config prefix", err)
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error loading nonexistent file")
	}
}

func TestLoadDefaultNoFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if cfg.Color != "auto" {
		t.Errorf("color = %q, want auto", cfg.Color)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := DefaultConfig()
	cfg.User = "cassandra"
	cfg.Connect.Retries = 2

	path := DefaultConfigPath()
	if path != filepath.Join(dir, "fanout", "config.yaml") {
		t.Fatalf("DefaultConfigPath() = %q", path)
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	if got.User != "cassandra" || got.Connect.Retries != 2 {
		t.Errorf("reloaded config = %+v", got)
	}
	if got.Connect.Timeout != cfg.Connect.Timeout {
		t.Errorf("timeout = %s, want %s", got.Connect.Timeout, cfg.Connect.Timeout)
	}
}

// loadFromString is a test helper that writes content to a temp file, loads it,
// and fails the test if loading fails.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringRaw(content)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func loadStringRaw(content string) (*Config, error) {
	dir, err := os.MkdirTemp("", "fanout-config-test")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, err
	}
	return Load(path)
}
