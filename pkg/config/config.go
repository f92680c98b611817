package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Live        LiveConfig        `toml:"live"`
	Gateway     GatewayConfig     `toml:"gateway"`
	Store       StoreConfig       `toml:"store"`
	Log         LogConfig         `toml:"log"`
	Tracing     TracingConfig     `toml:"tracing"`
	Credentials CredentialsConfig `toml:"credentials"`
	Notify      NotifyConfig      `toml:"notify"`
}

type LiveConfig struct {
	Endpoint         string `toml:"endpoint"`
	AutoConnect      *bool  `toml:"auto_connect"`
	MaxRetries       int    `toml:"max_retries"`
	RetryInterval    string `toml:"retry_interval"`
	TokenParam       string `toml:"token_param"`
	TokenEnv         string `toml:"token_env"`
	TokenName        string `toml:"token_name"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	WriteTimeout     string `toml:"write_timeout"`
	ReadLimit        int64  `toml:"read_limit"`
}

type GatewayConfig struct {
	Enabled       bool   `toml:"enabled"`
	Bind          string `toml:"bind"`
	Port          int    `toml:"port"`
	AuthToken     string `toml:"auth_token"`
	WebhookSecret string `toml:"webhook_secret"`
}

type StoreConfig struct {
	DSN       string `toml:"dsn"`
	Retention string `toml:"retention"`
	Prune     string `toml:"prune"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type TracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	Insecure    bool    `toml:"insecure"`
	SampleRatio float64 `toml:"sample_ratio"`
}

type CredentialsConfig struct {
	MasterKeyEnv string `toml:"master_key_env"`
}

type NotifyConfig struct {
	Types    []string       `toml:"types"`
	Discord  DiscordConfig  `toml:"discord"`
	Slack    SlackConfig    `toml:"slack"`
	Telegram TelegramConfig `toml:"telegram"`
}

type DiscordConfig struct {
	Enabled   bool   `toml:"enabled"`
	TokenEnv  string `toml:"token_env"`
	ChannelID string `toml:"channel_id"`
}

type SlackConfig struct {
	Enabled   bool   `toml:"enabled"`
	TokenEnv  string `toml:"token_env"`
	ChannelID string `toml:"channel_id"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	TokenEnv string `toml:"token_env"`
	ChatID   int64  `toml:"chat_id"`
}

func Default() *Config {
	return &Config{
		Live: LiveConfig{
			MaxRetries:       5,
			RetryInterval:    "3s",
			TokenParam:       "token",
			TokenEnv:         "TOURWATCH_TOKEN",
			TokenName:        "live_token",
			HandshakeTimeout: "10s",
			WriteTimeout:     "5s",
			ReadLimit:        1 << 20,
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Bind:    "loopback",
			Port:    18790,
		},
		Store: StoreConfig{
			DSN:       filepath.Join(DataDir(), "tourwatch.db"),
			Retention: "720h",
			Prune:     "@hourly",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Credentials: CredentialsConfig{
			MasterKeyEnv: "TOURWATCH_MASTER_KEY",
		},
		Notify: NotifyConfig{
			Types: []string{"sos", "incident"},
			Discord: DiscordConfig{
				TokenEnv: "DISCORD_BOT_TOKEN",
			},
			Slack: SlackConfig{
				TokenEnv: "SLACK_BOT_TOKEN",
			},
			Telegram: TelegramConfig{
				TokenEnv: "TELEGRAM_BOT_TOKEN",
			},
		},
	}
}

var (
	current *Config
	mu      sync.RWMutex
)

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			setCurrent(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Store.DSN == "" {
		cfg.Store.DSN = filepath.Join(DataDir(), "tourwatch.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setCurrent(cfg)
	return cfg, nil
}

func setCurrent(cfg *Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

func Current() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

// Validate checks the values Load cannot fix up. An empty live endpoint is
// allowed here; commands that need it report it themselves.
func (c *Config) Validate() error {
	var errs []error

	if c.Live.Endpoint != "" {
		u, err := url.Parse(c.Live.Endpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("live.endpoint: %w", err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("live.endpoint: unsupported scheme %q", u.Scheme))
		}
	}
	if c.Live.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("live.max_retries: must not be negative, got %d", c.Live.MaxRetries))
	}
	if d, err := parsePositive(c.Live.RetryInterval); err != nil {
		errs = append(errs, fmt.Errorf("live.retry_interval: %w", err))
	} else if d == 0 {
		errs = append(errs, errors.New("live.retry_interval: must be set"))
	}
	if _, err := parsePositive(c.Live.HandshakeTimeout); err != nil {
		errs = append(errs, fmt.Errorf("live.handshake_timeout: %w", err))
	}
	if _, err := parsePositive(c.Live.WriteTimeout); err != nil {
		errs = append(errs, fmt.Errorf("live.write_timeout: %w", err))
	}
	if _, err := parsePositive(c.Store.Retention); err != nil {
		errs = append(errs, fmt.Errorf("store.retention: %w", err))
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port: out of range: %d", c.Gateway.Port))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio: must be within [0,1], got %v", c.Tracing.SampleRatio))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (l LiveConfig) AutoConnectEnabled() bool {
	return l.AutoConnect == nil || *l.AutoConnect
}

func (l LiveConfig) RetryIntervalDuration() time.Duration {
	d, _ := parsePositive(l.RetryInterval)
	return d
}

func (l LiveConfig) HandshakeTimeoutDuration() time.Duration {
	d, _ := parsePositive(l.HandshakeTimeout)
	return d
}

func (l LiveConfig) WriteTimeoutDuration() time.Duration {
	d, _ := parsePositive(l.WriteTimeout)
	return d
}

func (s StoreConfig) RetentionDuration() time.Duration {
	d, _ := parsePositive(s.Retention)
	return d
}

// parsePositive parses a Go duration. Empty means unset and yields zero.
func parsePositive(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}

func DataDir() string {
	if dir := os.Getenv("TOURWATCH_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tourwatch"
	}
	return filepath.Join(home, ".tourwatch")
}

func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "tourwatch.toml")
}

func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}
