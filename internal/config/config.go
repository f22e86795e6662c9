// ABOUTME: Configuration loading and parsing for coven-irc
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/2389/coven-irc/internal/ipv6"
	"github.com/2389/coven-irc/internal/irc"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

// Config represents the complete coven-irc configuration
type Config struct {
	Matrix   MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Networks []NetworkConfig `yaml:"networks" toml:"networks"`
	Bridge   BridgeConfig    `yaml:"bridge" toml:"bridge"`
	Ident    IdentConfig     `yaml:"ident" toml:"ident"`
	Server   ServerConfig    `yaml:"server" toml:"server"`
	Database DatabaseConfig  `yaml:"database" toml:"database"`
	Metrics  MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Logging  LoggingConfig   `yaml:"logging" toml:"logging"`
}

// MatrixConfig holds the appservice account used to post notices
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`

	// AdminRooms maps Matrix user IDs to the room their notices go to.
	// The "*" entry catches everyone else, bots included.
	AdminRooms map[string]string `yaml:"admin_rooms" toml:"admin_rooms"`
}

// NetworkConfig describes one IRC network
type NetworkConfig struct {
	Domain           string           `yaml:"domain" toml:"domain"`
	Port             int              `yaml:"port" toml:"port"`
	TLS              bool             `yaml:"tls" toml:"tls"`
	Password         string           `yaml:"password" toml:"password"`
	IPv6Prefix       string           `yaml:"ipv6_prefix" toml:"ipv6_prefix"`
	ExcludedChannels []string         `yaml:"excluded_channels" toml:"excluded_channels"`
	Bot              BotConfig        `yaml:"bot" toml:"bot"`
	Membership       MembershipConfig `yaml:"membership" toml:"membership"`
	NickTemplate     string           `yaml:"nick_template" toml:"nick_template"`
	UsernameTemplate string           `yaml:"username_template" toml:"username_template"`
	MaxClients       int              `yaml:"max_clients" toml:"max_clients"`

	IdleTimeout    time.Duration `yaml:"-" toml:"-"`
	IdleTimeoutRaw string        `yaml:"idle_timeout" toml:"idle_timeout"`
}

// BotConfig holds the per-network bridge bot settings
type BotConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Nick    string `yaml:"nick" toml:"nick"`
}

// MembershipConfig holds membership sync settings
type MembershipConfig struct {
	Mirror bool `yaml:"mirror" toml:"mirror"`
}

// BridgeConfig holds client pool timing
type BridgeConfig struct {
	ReconnectDelay    time.Duration `yaml:"-" toml:"-"`
	ReconnectDelayRaw string        `yaml:"reconnect_delay" toml:"reconnect_delay"`
}

// IdentConfig holds the identd responder settings
type IdentConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Address string `yaml:"address" toml:"address"`
}

// ServerConfig holds listener addresses. An empty address disables that listener.
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

const (
	defaultIdentAddress   = "0.0.0.0:113"
	defaultDatabasePath   = "coven-irc.db"
	defaultMetricsPath    = "/metrics"
	defaultReconnectDelay = 5 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
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
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Ident.Address == "" {
		c.Ident.Address = defaultIdentAddress
	}
	if c.Database.Path == "" {
		c.Database.Path = defaultDatabasePath
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	if c.Bridge.ReconnectDelay == 0 {
		c.Bridge.ReconnectDelay = defaultReconnectDelay
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver != "" {
		u, err := url.Parse(c.Matrix.Homeserver)
		if err != nil {
			return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("matrix.homeserver must use http or https scheme")
		}
		if c.Matrix.UserID == "" {
			return errors.New("matrix.user_id is required when matrix.homeserver is set")
		}
		if c.Matrix.AccessToken == "" {
			return errors.New("matrix.access_token is required when matrix.homeserver is set")
		}
	}
	for user, room := range c.Matrix.AdminRooms {
		if user != "*" && !strings.HasPrefix(user, "@") {
			return fmt.Errorf("matrix.admin_rooms key %q is not a Matrix user ID", user)
		}
		if !strings.HasPrefix(room, "!") {
			return fmt.Errorf("matrix.admin_rooms[%s] %q is not a room ID", user, room)
		}
	}

	if len(c.Networks) == 0 {
		return errors.New("at least one entry in networks is required")
	}
	seen := make(map[string]bool, len(c.Networks))
	for i, n := range c.Networks {
		if n.Domain == "" {
			return fmt.Errorf("networks[%d].domain is required", i)
		}
		domain := strings.ToLower(n.Domain)
		if seen[domain] {
			return fmt.Errorf("networks[%d].domain %q is listed twice", i, n.Domain)
		}
		seen[domain] = true

		if n.Port < 0 || n.Port > 65535 {
			return fmt.Errorf("networks[%d].port %d is out of range", i, n.Port)
		}
		if n.MaxClients < 0 {
			return fmt.Errorf("networks[%d].max_clients must not be negative", i)
		}
		if n.IdleTimeout < 0 {
			return fmt.Errorf("networks[%d].idle_timeout must not be negative", i)
		}
		if n.IPv6Prefix != "" {
			if _, err := ipv6.AddressFor(n.IPv6Prefix, 1); err != nil {
				return fmt.Errorf("networks[%d].ipv6_prefix: %w", i, err)
			}
		}
		for _, ch := range n.ExcludedChannels {
			if !irc.IsChannel(ch) {
				return fmt.Errorf("networks[%d].excluded_channels entry %q is not a channel", i, ch)
			}
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Ident.Enabled && c.Ident.Address == "" {
		return errors.New("ident.address is required when ident is enabled")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		if n.IdleTimeoutRaw == "" {
			continue
		}
		d, err := time.ParseDuration(n.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing networks[%d].idle_timeout %q: %w", i, n.IdleTimeoutRaw, err)
		}
		n.IdleTimeout = d
	}

	if cfg.Bridge.ReconnectDelayRaw != "" {
		d, err := time.ParseDuration(cfg.Bridge.ReconnectDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_delay %q: %w", cfg.Bridge.ReconnectDelayRaw, err)
		}
		cfg.Bridge.ReconnectDelay = d
	}

	return nil
}

// Servers converts the network entries into network descriptors.
func (c *Config) Servers() []*irc.Server {
	servers := make([]*irc.Server, 0, len(c.Networks))
	for _, n := range c.Networks {
		servers = append(servers, n.Server())
	}
	return servers
}

// Server converts n into a network descriptor.
func (n NetworkConfig) Server() *irc.Server {
	return &irc.Server{
		Domain:           n.Domain,
		Port:             n.Port,
		TLS:              n.TLS,
		Password:         n.Password,
		IdleTimeout:      n.IdleTimeout,
		IPv6Prefix:       n.IPv6Prefix,
		ExcludedChannels: append([]string(nil), n.ExcludedChannels...),
		BotEnabled:       n.Bot.Enabled,
		BotNick:          n.Bot.Nick,
		MirrorMembership: n.Membership.Mirror,
		NickTemplate:     n.NickTemplate,
		UsernameTemplate: n.UsernameTemplate,
		MaxClients:       n.MaxClients,
	}
}

// AdminRooms returns matrix.admin_rooms keyed by Matrix IDs.
func (c *Config) AdminRooms() map[id.UserID]id.RoomID {
	rooms := make(map[id.UserID]id.RoomID, len(c.Matrix.AdminRooms))
	for user, room := range c.Matrix.AdminRooms {
		rooms[id.UserID(user)] = id.RoomID(room)
	}
	return rooms
}
