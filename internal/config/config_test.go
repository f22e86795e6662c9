// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"maunium.net/go/mautrix/id"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@ircbridge:example.org"
  access_token: "secret"
  admin_rooms:
    "@alice:example.org": "!alice:example.org"
    "*": "!ops:example.org"

networks:
  - domain: irc.libera.chat
    port: 6697
    tls: true
    password: "netpass"
    idle_timeout: "48h"
    ipv6_prefix: "2001:db8:1::/64"
    excluded_channels: ["#secret"]
    bot:
      enabled: true
      nick: MatrixBridge
    membership:
      mirror: true
    nick_template: "$LOCALPART[m]"
    username_template: "m_$LOCALPART"
    max_clients: 500

bridge:
  reconnect_delay: "10s"

ident:
  enabled: true
  address: "127.0.0.1:1113"

server:
  grpc_addr: "127.0.0.1:50061"
  http_addr: "127.0.0.1:9090"

database:
  path: "./irc.db"

metrics:
  enabled: true

logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Networks) != 1 {
		t.Fatalf("len(Networks) = %d, want 1", len(cfg.Networks))
	}
	n := cfg.Networks[0]
	if n.IdleTimeout != 48*time.Hour {
		t.Errorf("IdleTimeout = %v, want 48h", n.IdleTimeout)
	}
	if cfg.Bridge.ReconnectDelay != 10*time.Second {
		t.Errorf("ReconnectDelay = %v, want 10s", cfg.Bridge.ReconnectDelay)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default /metrics", cfg.Metrics.Path)
	}

	s := n.Server()
	if s.Domain != "irc.libera.chat" || s.Port != 6697 || !s.TLS {
		t.Errorf("Server() = %+v, want libera over TLS", s)
	}
	if !s.BotEnabled || s.BotNick != "MatrixBridge" {
		t.Errorf("bot = (%v, %q), want enabled MatrixBridge", s.BotEnabled, s.BotNick)
	}
	if !s.MirrorMembership {
		t.Error("MirrorMembership = false, want true")
	}
	if !s.IsExcludedChannel("#SECRET") {
		t.Error("#SECRET should be excluded")
	}
	if s.UsernameTemplate != "m_$LOCALPART" || s.MaxClients != 500 {
		t.Errorf("templates/limits not carried: %+v", s)
	}

	rooms := cfg.AdminRooms()
	if rooms[id.UserID("@alice:example.org")] != "!alice:example.org" {
		t.Errorf("AdminRooms() = %v", rooms)
	}
	if rooms["*"] != "!ops:example.org" {
		t.Errorf("fallback room = %q", rooms["*"])
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[[networks]]
domain = "irc.oftc.net"
idle_timeout = "1h"
excluded_channels = ["#ops"]

[networks.bot]
enabled = true
nick = "oftcbridge"

[logging]
level = "warn"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	servers := cfg.Servers()
	if len(servers) != 1 {
		t.Fatalf("len(Servers()) = %d, want 1", len(servers))
	}
	if servers[0].Domain != "irc.oftc.net" || servers[0].IdleTimeout != time.Hour {
		t.Errorf("Servers()[0] = %+v", servers[0])
	}
	if servers[0].BotNick != "oftcbridge" {
		t.Errorf("BotNick = %q, want oftcbridge", servers[0].BotNick)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Database.Path != defaultDatabasePath {
		t.Errorf("Database.Path = %q, want default", cfg.Database.Path)
	}
	if cfg.Bridge.ReconnectDelay != defaultReconnectDelay {
		t.Errorf("ReconnectDelay = %v, want default", cfg.Bridge.ReconnectDelay)
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_IRC_PASSWORD", "from-env")
	path := writeConfig(t, "config.yaml", `
networks:
  - domain: irc.example.org
    password: "${TEST_IRC_PASSWORD}"
    nick_template: "${TEST_IRC_UNSET}M-$LOCALPART"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Networks[0].Password != "from-env" {
		t.Errorf("Password = %q, want from-env", cfg.Networks[0].Password)
	}
	if cfg.Networks[0].NickTemplate != "M-$LOCALPART" {
		t.Errorf("NickTemplate = %q, want template placeholder untouched", cfg.Networks[0].NickTemplate)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no networks",
			content: "logging:\n  level: info\n",
			wantErr: "at least one entry in networks",
		},
		{
			name:    "bad duration",
			content: "networks:\n  - domain: a\n    idle_timeout: soon\n",
			wantErr: "idle_timeout",
		},
		{
			name:    "duplicate network",
			content: "networks:\n  - domain: a\n  - domain: A\n",
			wantErr: "listed twice",
		},
		{
			name:    "missing domain",
			content: "networks:\n  - port: 6667\n",
			wantErr: "networks[0].domain is required",
		},
		{
			name:    "bad port",
			content: "networks:\n  - domain: a\n    port: 70000\n",
			wantErr: "out of range",
		},
		{
			name:    "ipv4 prefix",
			content: "networks:\n  - domain: a\n    ipv6_prefix: 10.0.0.0/8\n",
			wantErr: "ipv6_prefix",
		},
		{
			name:    "excluded non-channel",
			content: "networks:\n  - domain: a\n    excluded_channels: [bob]\n",
			wantErr: "not a channel",
		},
		{
			name:    "homeserver without token",
			content: "matrix:\n  homeserver: https://hs\n  user_id: \"@b:hs\"\nnetworks:\n  - domain: a\n",
			wantErr: "matrix.access_token is required",
		},
		{
			name:    "homeserver scheme",
			content: "matrix:\n  homeserver: ftp://hs\nnetworks:\n  - domain: a\n",
			wantErr: "http or https",
		},
		{
			name:    "admin room key",
			content: "matrix:\n  admin_rooms:\n    alice: \"!r:hs\"\nnetworks:\n  - domain: a\n",
			wantErr: "not a Matrix user ID",
		},
		{
			name:    "log level",
			content: "networks:\n  - domain: a\nlogging:\n  level: loud\n",
			wantErr: "logging.level",
		},
		{
			name:    "invalid yaml",
			content: "networks: [\n",
			wantErr: "parsing config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("Load() error = %v, want reading error", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_EXPAND_A", "one")
	got := expandEnvVars("${TEST_EXPAND_A}-${TEST_EXPAND_MISSING}-$PLAIN")
	if got != "one--$PLAIN" {
		t.Errorf("expandEnvVars() = %q", got)
	}
}
