package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Live.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Live.MaxRetries)
	}
	if got := cfg.Live.RetryIntervalDuration(); got != 3*time.Second {
		t.Errorf("RetryInterval = %v, want 3s", got)
	}
	if !cfg.Live.AutoConnectEnabled() {
		t.Error("AutoConnect should default to true")
	}
	if cfg.Live.TokenParam != "token" {
		t.Errorf("TokenParam = %q, want token", cfg.Live.TokenParam)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate: %v", err)
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("/tmp/nonexistent-tourwatch-config.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 18790 {
		t.Errorf("Port = %d, want 18790", cfg.Gateway.Port)
	}
}

func TestLoadValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tourwatch.toml")

	content := `
[live]
endpoint = "wss://console.example.com/live"
auto_connect = false
max_retries = 2
retry_interval = "100ms"

[gateway]
port = 9999
bind = "lan"

[notify]
types = ["sos"]

[notify.slack]
enabled = true
channel_id = "C123"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Live.Endpoint != "wss://console.example.com/live" {
		t.Errorf("Endpoint = %q", cfg.Live.Endpoint)
	}
	if cfg.Live.AutoConnectEnabled() {
		t.Error("AutoConnect = true, want false")
	}
	if cfg.Live.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.Live.MaxRetries)
	}
	if got := cfg.Live.RetryIntervalDuration(); got != 100*time.Millisecond {
		t.Errorf("RetryInterval = %v, want 100ms", got)
	}
	if cfg.Gateway.Port != 9999 || cfg.Gateway.Bind != "lan" {
		t.Errorf("Gateway = %+v", cfg.Gateway)
	}
	if len(cfg.Notify.Types) != 1 || cfg.Notify.Types[0] != "sos" {
		t.Errorf("Notify.Types = %v, want [sos]", cfg.Notify.Types)
	}
	if !cfg.Notify.Slack.Enabled || cfg.Notify.Slack.ChannelID != "C123" {
		t.Errorf("Notify.Slack = %+v", cfg.Notify.Slack)
	}
	if cfg.Notify.Slack.TokenEnv != "SLACK_BOT_TOKEN" {
		t.Errorf("Slack.TokenEnv default lost: %q", cfg.Notify.Slack.TokenEnv)
	}
	if Current() != cfg {
		t.Error("Current did not return loaded config")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	os.WriteFile(path, []byte("not [valid toml"), 0644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"negative retries", func(c *Config) { c.Live.MaxRetries = -1 }, "max_retries"},
		{"bad interval", func(c *Config) { c.Live.RetryInterval = "soon" }, "retry_interval"},
		{"zero interval", func(c *Config) { c.Live.RetryInterval = "0s" }, "retry_interval"},
		{"empty interval", func(c *Config) { c.Live.RetryInterval = "" }, "retry_interval"},
		{"bad scheme", func(c *Config) { c.Live.Endpoint = "ftp://host/live" }, "scheme"},
		{"bad port", func(c *Config) { c.Gateway.Port = 70000 }, "gateway.port"},
		{"bad ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }, "sample_ratio"},
		{"bad retention", func(c *Config) { c.Store.Retention = "-1h" }, "retention"},
		{"valid wss", func(c *Config) { c.Live.Endpoint = "wss://host/live" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDataDirEnv(t *testing.T) {
	t.Setenv("TOURWATCH_DATA_DIR", "/tmp/custom-tourwatch")
	if dir := DataDir(); dir != "/tmp/custom-tourwatch" {
		t.Errorf("DataDir = %q, want /tmp/custom-tourwatch", dir)
	}
	if p := DefaultConfigPath(); p != "/tmp/custom-tourwatch/tourwatch.toml" {
		t.Errorf("DefaultConfigPath = %q", p)
	}
}
