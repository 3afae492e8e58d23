package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models cradle.yml.
type Config struct {
	Scheduler struct {
		TickSeconds int `yaml:"tick_seconds"`
		FeedBuffer  int `yaml:"feed_buffer"`
	} `yaml:"scheduler"`
	Delivery struct {
		URL            string `yaml:"url"`
		Secret         string `yaml:"secret"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"delivery"`
	Upcoming struct {
		DefaultLimit int `yaml:"default_limit"`
	} `yaml:"upcoming"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Scheduler.TickSeconds < 0 {
		return fmt.Errorf("config.scheduler.tick_seconds must not be negative")
	}
	if c.Scheduler.FeedBuffer < 0 {
		return fmt.Errorf("config.scheduler.feed_buffer must not be negative")
	}
	if c.Delivery.TimeoutSeconds < 0 {
		return fmt.Errorf("config.delivery.timeout_seconds must not be negative")
	}
	if c.Delivery.URL == "" && c.Delivery.Secret != "" {
		return fmt.Errorf("config.delivery.secret set without config.delivery.url")
	}
	if c.Upcoming.DefaultLimit < 0 {
		return fmt.Errorf("config.upcoming.default_limit must not be negative")
	}
	return nil
}

// TickInterval returns the scheduler scan interval, zero when unset so
// the scheduler applies its own default.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

// DeliveryTimeout returns the per-call delivery budget, zero when unset.
func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.Delivery.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "cradle.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cradle config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `scheduler:
  # How often the due-check loop scans for reminders that came due.
  tick_seconds: 5
  # Capacity of the surfaced-reminder feed.
  feed_buffer: 64

delivery:
  # Endpoint of the push notification bridge. Leave empty to disable
  # push delivery; in-app surfacing still works without it.
  url: ""
  secret: ""
  timeout_seconds: 5

upcoming:
  default_limit: 20
`
