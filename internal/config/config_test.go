package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Reconnect.Attempts != 5 || cfg.Reconnect.BaseDelay != time.Second ||
		cfg.Reconnect.MaxDelay != 5*time.Second || cfg.Reconnect.ConnectTimeout != 10*time.Second {
		t.Fatalf("reconnect = %+v", cfg.Reconnect)
	}
	if cfg.Notify.DismissAfter != 5*time.Second || cfg.Notify.PermissionDelay != time.Second {
		t.Fatalf("notify = %+v", cfg.Notify)
	}
	if !strings.HasSuffix(cfg.TokenFile, filepath.Join(".crmlive", "token.yaml")) {
		t.Fatalf("token file = %q", cfg.TokenFile)
	}
	if !strings.HasSuffix(cfg.DBPath, filepath.Join(".crmlive", "journal.db")) {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
chat_url: wss://crm.example.com/chat
notification_url: wss://crm.example.com/notifications
api_url: https://crm.example.com/api
project_id: 12
db_path: ":memory:"
token_file: /tmp/crmlive-token.yaml
reconnect:
  attempts: 3
  base_delay: 500ms
  max_delay: 4s
notify:
  sink: ntfy
  ntfy_topic: crm-alerts
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProjectID != 12 || cfg.ChatURL != "wss://crm.example.com/chat" {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.Reconnect.Attempts != 3 || cfg.Reconnect.BaseDelay != 500*time.Millisecond || cfg.Reconnect.MaxDelay != 4*time.Second {
		t.Fatalf("reconnect = %+v", cfg.Reconnect)
	}
	// unset keys keep their defaults
	if cfg.Reconnect.ConnectTimeout != 10*time.Second {
		t.Fatalf("connect timeout = %v", cfg.Reconnect.ConnectTimeout)
	}
	if cfg.DBPath != ":memory:" || cfg.TokenFile != "/tmp/crmlive-token.yaml" {
		t.Fatalf("paths = %q %q", cfg.DBPath, cfg.TokenFile)
	}
	if err := cfg.RequireRealtime(); err != nil {
		t.Fatal(err)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "project_id: 1\nchat_url: wss://a.example.com/chat\n")
	t.Setenv("CRMLIVE_PROJECT_ID", "42")
	t.Setenv("CRMLIVE_TOKEN", "env-token")
	t.Setenv("CRMLIVE_CHAT_URL", "wss://b.example.com/chat")
	t.Setenv("CRMLIVE_NOTIFICATION_URL", "wss://b.example.com/notifications")
	t.Setenv("CRMLIVE_API_URL", "https://b.example.com/api")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProjectID != 42 || cfg.Token != "env-token" {
		t.Fatalf("got project=%d token=%q", cfg.ProjectID, cfg.Token)
	}
	if cfg.ChatURL != "wss://b.example.com/chat" || cfg.NotificationURL != "wss://b.example.com/notifications" || cfg.APIURL != "https://b.example.com/api" {
		t.Fatalf("urls = %q %q %q", cfg.ChatURL, cfg.NotificationURL, cfg.APIURL)
	}
}

func TestBadProjectEnv(t *testing.T) {
	t.Setenv("CRMLIVE_PROJECT_ID", "abc")
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"bad url":          func(c *Config) { c.ChatURL = "not a url" },
		"negative project": func(c *Config) { c.ProjectID = -1 },
		"base over max":    func(c *Config) { c.Reconnect.BaseDelay = 10 * time.Second },
		"zero timeout":     func(c *Config) { c.Reconnect.ConnectTimeout = 0 },
		"unknown sink":     func(c *Config) { c.Notify.Sink = "toast" },
		"ntfy no topic":    func(c *Config) { c.Notify.Sink = "ntfy" },
		"bad level":        func(c *Config) { c.Logging.Level = "loud" },
		"negative rate":    func(c *Config) { c.REST.Rate = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestRequireRealtime(t *testing.T) {
	c := Default()
	if err := c.RequireRealtime(); err == nil {
		t.Fatal("expected error without urls")
	}
}

func TestParseError(t *testing.T) {
	if _, err := Load(writeConfig(t, "reconnect: [")); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("got %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if got := ExpandHome("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Fatalf("got %q", got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Fatalf("got %q", got)
	}
}
