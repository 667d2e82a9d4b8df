// ABOUTME: Configuration loading and parsing for onebot-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults for values left empty in the file.
const (
	DefaultQueueSize        = 100
	DefaultReconnectDelay   = 3 * time.Second
	DefaultRequestTimeout   = 120 * time.Second
	DefaultSweepInterval    = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultGSCoreBotID      = "onebot"
)

// Config represents the complete onebot-gateway configuration
type Config struct {
	OneBot   OneBotConfig   `yaml:"onebot" toml:"onebot"`
	Dispatch DispatchConfig `yaml:"dispatch" toml:"dispatch"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Apps     AppsConfig     `yaml:"apps" toml:"apps"`
	GSCore   GSCoreConfig   `yaml:"gscore" toml:"gscore"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// OneBotConfig holds the primary backend connection settings
type OneBotConfig struct {
	Endpoint    string `yaml:"endpoint" toml:"endpoint"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	QueueSize   int    `yaml:"queue_size" toml:"queue_size"`

	ReconnectDelay   time.Duration `yaml:"-" toml:"-"`
	RequestTimeout   time.Duration `yaml:"-" toml:"-"`
	SweepInterval    time.Duration `yaml:"-" toml:"-"`
	HandshakeTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReconnectDelayRaw   string `yaml:"reconnect_delay" toml:"reconnect_delay"`
	RequestTimeoutRaw   string `yaml:"request_timeout" toml:"request_timeout"`
	SweepIntervalRaw    string `yaml:"sweep_interval" toml:"sweep_interval"`
	HandshakeTimeoutRaw string `yaml:"handshake_timeout" toml:"handshake_timeout"`
}

// DispatchConfig tunes event fan-out. Duplicate message suppression is off
// unless dedupe_ttl is set.
type DispatchConfig struct {
	DedupeTTL    time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// ServerConfig holds the optional health endpoint address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// AppsConfig holds settings for the built-in applications
type AppsConfig struct {
	OwnerID   int64   `yaml:"owner_id" toml:"owner_id"`
	MainGroup int64   `yaml:"main_group" toml:"main_group"`
	LogGroups []int64 `yaml:"log_groups" toml:"log_groups"`
}

// GSCoreConfig holds the downstream bridge settings
type GSCoreConfig struct {
	Enabled            bool    `yaml:"enabled" toml:"enabled"`
	Endpoint           string  `yaml:"endpoint" toml:"endpoint"`
	BotID              string  `yaml:"bot_id" toml:"bot_id"`
	EnabledGroups      []int64 `yaml:"enabled_groups" toml:"enabled_groups"`
	NodeSenderID       string  `yaml:"node_sender_id" toml:"node_sender_id"`
	NodeSenderNickname string  `yaml:"node_sender_nickname" toml:"node_sender_nickname"`

	ReconnectDelay    time.Duration `yaml:"-" toml:"-"`
	ReconnectDelayRaw string        `yaml:"reconnect_delay" toml:"reconnect_delay"`
}

// MatrixConfig holds the Matrix mirror settings
type MatrixConfig struct {
	Enabled     bool    `yaml:"enabled" toml:"enabled"`
	Homeserver  string  `yaml:"homeserver" toml:"homeserver"`
	UserID      string  `yaml:"user_id" toml:"user_id"`
	AccessToken string  `yaml:"access_token" toml:"access_token"`
	RoomID      string  `yaml:"room_id" toml:"room_id"`
	Groups      []int64 `yaml:"groups" toml:"groups"`
	Rate        float64 `yaml:"rate" toml:"rate"` // messages per second, 0 = unlimited
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.OneBot.Endpoint == "" {
		return fmt.Errorf("onebot.endpoint is required")
	}
	if err := validateWebSocketURL(c.OneBot.Endpoint); err != nil {
		return fmt.Errorf("onebot.endpoint: %w", err)
	}
	if c.OneBot.QueueSize < 5 || c.OneBot.QueueSize > 100 {
		return fmt.Errorf("onebot.queue_size must be between 5 and 100, got %d", c.OneBot.QueueSize)
	}
	if c.OneBot.SweepInterval > c.OneBot.RequestTimeout {
		return fmt.Errorf("onebot.sweep_interval (%s) must not exceed onebot.request_timeout (%s)",
			c.OneBot.SweepInterval, c.OneBot.RequestTimeout)
	}

	if c.GSCore.Enabled {
		if c.GSCore.Endpoint == "" {
			return fmt.Errorf("gscore.endpoint is required when gscore is enabled")
		}
		if err := validateWebSocketURL(c.GSCore.Endpoint); err != nil {
			return fmt.Errorf("gscore.endpoint: %w", err)
		}
	}

	if c.Matrix.Enabled {
		switch {
		case c.Matrix.Homeserver == "":
			return fmt.Errorf("matrix.homeserver is required when matrix is enabled")
		case c.Matrix.UserID == "":
			return fmt.Errorf("matrix.user_id is required when matrix is enabled")
		case c.Matrix.AccessToken == "":
			return fmt.Errorf("matrix.access_token is required when matrix is enabled")
		case c.Matrix.RoomID == "":
			return fmt.Errorf("matrix.room_id is required when matrix is enabled")
		}
		if c.Matrix.Rate < 0 {
			return fmt.Errorf("matrix.rate must not be negative")
		}
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func validateWebSocketURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.OneBot.QueueSize == 0 {
		c.OneBot.QueueSize = DefaultQueueSize
	}
	if c.OneBot.ReconnectDelay == 0 {
		c.OneBot.ReconnectDelay = DefaultReconnectDelay
	}
	if c.OneBot.RequestTimeout == 0 {
		c.OneBot.RequestTimeout = DefaultRequestTimeout
	}
	if c.OneBot.SweepInterval == 0 {
		c.OneBot.SweepInterval = DefaultSweepInterval
	}
	if c.OneBot.HandshakeTimeout == 0 {
		c.OneBot.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.GSCore.BotID == "" {
		c.GSCore.BotID = DefaultGSCoreBotID
	}
	if c.GSCore.ReconnectDelay == 0 {
		c.GSCore.ReconnectDelay = c.OneBot.ReconnectDelay
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"onebot.reconnect_delay", cfg.OneBot.ReconnectDelayRaw, &cfg.OneBot.ReconnectDelay},
		{"onebot.request_timeout", cfg.OneBot.RequestTimeoutRaw, &cfg.OneBot.RequestTimeout},
		{"onebot.sweep_interval", cfg.OneBot.SweepIntervalRaw, &cfg.OneBot.SweepInterval},
		{"onebot.handshake_timeout", cfg.OneBot.HandshakeTimeoutRaw, &cfg.OneBot.HandshakeTimeout},
		{"dispatch.dedupe_ttl", cfg.Dispatch.DedupeTTLRaw, &cfg.Dispatch.DedupeTTL},
		{"gscore.reconnect_delay", cfg.GSCore.ReconnectDelayRaw, &cfg.GSCore.ReconnectDelay},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
