// Package config provides YAML-based configuration loading for Signalbox.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Signalbox configuration, loaded from
// signalbox.yaml. Secrets may be supplied or overridden via environment
// variables (SIGNALBOX_API_TOKEN, SIGNALBOX_QUEUE_SECRET,
// SIGNALBOX_CODERUNNER_TOKEN).
type Config struct {
	Service    string           `yaml:"service"`
	HTTP       HTTPConfig       `yaml:"http"`
	DB         DBConfig         `yaml:"db"`
	Auth       AuthConfig       `yaml:"auth"`
	Queue      QueueConfig      `yaml:"queue"`
	Coderunner CoderunnerConfig `yaml:"coderunner"`
	Allowlist  []RepoRef        `yaml:"allowlist"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// HTTPConfig holds listen settings for the control plane and the engine's
// local consume endpoint.
type HTTPConfig struct {
	Port       int `yaml:"port"`
	EnginePort int `yaml:"engine_port"`
}

// DBConfig selects and parameterizes the store backend.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	User     string `yaml:"user"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// AuthConfig holds the shared secrets guarding HTTP surfaces.
type AuthConfig struct {
	APIToken    string `yaml:"api_token"`
	QueueSecret string `yaml:"queue_secret"`
}

// QueueConfig parameterizes the embedded queue.
type QueueConfig struct {
	Topic         string `yaml:"topic"`
	LeaseSeconds  int    `yaml:"lease_seconds"`
	SweepSchedule string `yaml:"sweep_schedule"` // 5-field cron expression
}

// CoderunnerConfig selects the adapter mode and external transport settings.
type CoderunnerConfig struct {
	Mode           string `yaml:"mode"` // "mock" or "external"
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RepoRef names a repository by owner and name.
type RepoRef struct {
	Owner string `yaml:"owner"`
	Name  string `yaml:"name"`
}

// NotifyConfig enables terminal-outcome notifications. An empty section
// disables delivery entirely.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack API credentials and the target channel.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// DiscordConfig holds Discord bot credentials and the target channel.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secrets from the environment over file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("SIGNALBOX_API_TOKEN"); v != "" {
		c.Auth.APIToken = v
	}
	if v := os.Getenv("SIGNALBOX_QUEUE_SECRET"); v != "" {
		c.Auth.QueueSecret = v
	}
	if v := os.Getenv("SIGNALBOX_CODERUNNER_TOKEN"); v != "" {
		c.Coderunner.Token = v
	}
	if v := os.Getenv("SIGNALBOX_CODERUNNER_MODE"); v != "" {
		c.Coderunner.Mode = v
	}
	if v := os.Getenv("SIGNALBOX_CODERUNNER_BASE_URL"); v != "" {
		c.Coderunner.BaseURL = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Service == "" {
		c.Service = "signalbox"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.EnginePort == 0 {
		c.HTTP.EnginePort = 8081
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Path == "" {
		c.DB.Path = "signalbox.db"
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" {
		c.DB.Database = "signalbox"
	}
	if c.Queue.Topic == "" {
		c.Queue.Topic = "runs"
	}
	if c.Queue.LeaseSeconds == 0 {
		c.Queue.LeaseSeconds = 60
	}
	if c.Queue.SweepSchedule == "" {
		c.Queue.SweepSchedule = "* * * * *"
	}
	if c.Coderunner.Mode == "" {
		c.Coderunner.Mode = "mock"
	}
	if c.Coderunner.TimeoutSeconds == 0 {
		c.Coderunner.TimeoutSeconds = 30
	}
}

// validate checks that required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Auth.APIToken == "" {
		errs = append(errs, "auth.api_token is required")
	}
	if c.Auth.QueueSecret == "" {
		errs = append(errs, "auth.queue_secret is required")
	}
	switch c.DB.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("db.driver %q is not supported", c.DB.Driver))
	}
	switch c.Coderunner.Mode {
	case "mock":
	case "external":
		if c.Coderunner.BaseURL == "" {
			errs = append(errs, "coderunner.base_url is required in external mode")
		}
		if c.Coderunner.Token == "" {
			errs = append(errs, "coderunner.token is required in external mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("coderunner.mode %q is not supported", c.Coderunner.Mode))
	}
	for i, r := range c.Allowlist {
		if r.Owner == "" || r.Name == "" {
			errs = append(errs, fmt.Sprintf("allowlist[%d] needs owner and name", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Allowed reports whether a repo may be registered. An empty allowlist
// accepts any repo (dev mode).
func (c *Config) Allowed(owner, name string) bool {
	if len(c.Allowlist) == 0 {
		return true
	}
	for _, r := range c.Allowlist {
		if strings.EqualFold(r.Owner, owner) && strings.EqualFold(r.Name, name) {
			return true
		}
	}
	return false
}
