package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/agent462/fanout/internal/pathutil"
)

// Config represents the fanout tool configuration. Command-line flags
// override every field.
type Config struct {
	// Inventory is the default inventory file.
	Inventory string `yaml:"inventory" validate:"required"`

	// User is the default remote login. Inventory ansible_user wins over it.
	User string `yaml:"user,omitempty"`

	IdentityFiles []string `yaml:"identity_files,omitempty" validate:"dive,required"`

	// Insecure skips known_hosts verification.
	Insecure bool `yaml:"insecure,omitempty"`

	// Color is one of auto, always, never.
	Color string `yaml:"color" validate:"oneof=auto always never"`

	Connect Connect `yaml:"connect"`
	Follow  Follow  `yaml:"follow"`
}

// Connect holds SSH connection settings.
type Connect struct {
	Timeout    Duration `yaml:"timeout" validate:"gte=0"`
	Retries    int      `yaml:"retries" validate:"gte=0,lte=10"`
	RetryDelay Duration `yaml:"retry_delay" validate:"gte=0"`
}

// Follow holds follow-mode settings.
type Follow struct {
	// PollInterval bounds each read in the follow loop.
	PollInterval Duration `yaml:"poll_interval" validate:"gt=0"`
}

// Duration wraps time.Duration to support YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(Duration); ok {
			return int64(d.Duration)
		}
		return nil
	}, Duration{})
	// Report fields by their YAML names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Inventory: "inventory.yaml",
		Color:     "auto",
		Connect: Connect{
			Timeout:    Duration{10 * time.Second},
			RetryDelay: Duration{500 * time.Millisecond},
		},
		Follow: Follow{
			PollInterval: Duration{100 * time.Millisecond},
		},
	}
}

// DefaultConfigPath returns the default config file path.
// Respects $XDG_CONFIG_HOME if set, otherwise falls back to ~/.config.
func DefaultConfigPath() string {
	dir := pathutil.ConfigDir("fanout")
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads and parses a config YAML file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(pathutil.ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads the config from the default path (~/.config/fanout/config.yaml).
// If the file does not exist, it returns the default config.
func LoadDefault() (*Config, error) {
	path := DefaultConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Save writes the config to the given file path as YAML.
// It creates parent directories if they don't exist.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s, got %q", field, strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s, got %v", field, fe.Tag(), fe.Param(), displayValue(fe.Value())))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func displayValue(v interface{}) interface{} {
	if d, ok := v.(Duration); ok {
		return d.Duration
	}
	return v
}
