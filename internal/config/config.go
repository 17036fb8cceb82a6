package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	ChatURL         string `yaml:"chat_url"`
	NotificationURL string `yaml:"notification_url"`
	APIURL          string `yaml:"api_url"`
	ProjectID       int64  `yaml:"project_id"`

	// Token is normally left empty and read from TokenFile. CRMLIVE_TOKEN sets it.
	Token     string `yaml:"token,omitempty"`
	TokenFile string `yaml:"token_file"`
	DBPath    string `yaml:"db_path"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Notify    NotifyConfig    `yaml:"notify"`
	REST      RESTConfig      `yaml:"rest"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ReconnectConfig struct {
	Attempts       int           `yaml:"attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type NotifyConfig struct {
	Sink            string        `yaml:"sink"` // "log", "ntfy" or "none"
	NtfyTopic       string        `yaml:"ntfy_topic,omitempty"`
	NtfyToken       string        `yaml:"ntfy_token,omitempty"`
	ClickURL        string        `yaml:"click_url,omitempty"`
	DismissAfter    time.Duration `yaml:"dismiss_after"`
	PermissionDelay time.Duration `yaml:"permission_delay"`
}

type RESTConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Reconnect: ReconnectConfig{
			Attempts:       5,
			BaseDelay:      time.Second,
			MaxDelay:       5 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Notify: NotifyConfig{
			Sink:            "log",
			DismissAfter:    5 * time.Second,
			PermissionDelay: time.Second,
		},
		REST:    RESTConfig{Rate: 5, Burst: 10},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a file on top of Default. A missing file is
// not an error. Environment variables override the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.fillPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CRMLIVE_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("CRMLIVE_PROJECT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CRMLIVE_PROJECT_ID: %w", err)
		}
		c.ProjectID = id
	}
	if v := os.Getenv("CRMLIVE_CHAT_URL"); v != "" {
		c.ChatURL = v
	}
	if v := os.Getenv("CRMLIVE_NOTIFICATION_URL"); v != "" {
		c.NotificationURL = v
	}
	if v := os.Getenv("CRMLIVE_API_URL"); v != "" {
		c.APIURL = v
	}
	return nil
}

func (c *Config) fillPaths() error {
	var err error
	if c.TokenFile == "" {
		if c.TokenFile, err = defaultFile("token.yaml"); err != nil {
			return err
		}
	} else {
		c.TokenFile = ExpandHome(c.TokenFile)
	}
	if c.DBPath == "" {
		if c.DBPath, err = defaultFile("journal.db"); err != nil {
			return err
		}
	} else if c.DBPath != ":memory:" {
		c.DBPath = ExpandHome(c.DBPath)
	}
	if c.Logging.File != "" {
		c.Logging.File = ExpandHome(c.Logging.File)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	for name, u := range map[string]string{
		"chat_url":         c.ChatURL,
		"notification_url": c.NotificationURL,
		"api_url":          c.APIURL,
	} {
		if u == "" {
			continue
		}
		parsed, err := url.Parse(u)
		if err != nil || parsed.Host == "" {
			return fmt.Errorf("%s: invalid URL %q", name, u)
		}
	}
	if c.ProjectID < 0 {
		return fmt.Errorf("project_id must not be negative")
	}

	r := c.Reconnect
	if r.Attempts < 0 {
		return fmt.Errorf("reconnect.attempts must not be negative")
	}
	if r.BaseDelay <= 0 || r.MaxDelay <= 0 || r.ConnectTimeout <= 0 {
		return fmt.Errorf("reconnect delays and connect_timeout must be positive")
	}
	if r.BaseDelay > r.MaxDelay {
		return fmt.Errorf("reconnect.base_delay exceeds max_delay")
	}

	switch c.Notify.Sink {
	case "log", "none":
	case "ntfy":
		if c.Notify.NtfyTopic == "" {
			return fmt.Errorf("notify.ntfy_topic is required for the ntfy sink")
		}
	default:
		return fmt.Errorf("notify.sink must be 'log', 'ntfy' or 'none'")
	}
	if c.Notify.DismissAfter <= 0 || c.Notify.PermissionDelay < 0 {
		return fmt.Errorf("notify.dismiss_after must be positive, permission_delay not negative")
	}

	if c.REST.Rate < 0 || c.REST.Burst < 0 {
		return fmt.Errorf("rest.rate and rest.burst must not be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error")
	}
	return nil
}

// RequireRealtime reports the settings the watch loop cannot run without.
func (c *Config) RequireRealtime() error {
	if c.ChatURL == "" {
		return fmt.Errorf("chat_url is required")
	}
	if c.NotificationURL == "" {
		return fmt.Errorf("notification_url is required")
	}
	return nil
}
