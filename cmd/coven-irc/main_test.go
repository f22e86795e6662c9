// ABOUTME: Tests for the coven-irc command tree, config path resolution and logger setup
// ABOUTME: Commands run in-process against temp config files and SQLite databases

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-irc/internal/config"
	"github.com/2389/coven-irc/internal/ipv6"
	"github.com/2389/coven-irc/internal/irc"
	"github.com/2389/coven-irc/internal/store"
)

func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	content := `
networks:
  - domain: irc.example.org
    port: 6697
    tls: true
    ipv6_prefix: "2001:db8::/64"
    idle_timeout: 1h
    max_clients: 10
    bot:
      enabled: true
      nick: bridgebot
database:
  path: ` + dbPath + `
`
	path := filepath.Join(t.TempDir(), "irc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGetConfigPath(t *testing.T) {
	t.Run("env var wins", func(t *testing.T) {
		t.Setenv("COVEN_IRC_CONFIG", "/etc/coven/irc.yaml")
		assert.Equal(t, "/etc/coven/irc.yaml", getConfigPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("COVEN_IRC_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		assert.Equal(t, filepath.Join("/tmp/xdg", "coven", "irc.yaml"), getConfigPath())
	})
}

func TestCheckConfig_Valid(t *testing.T) {
	path := writeConfig(t, filepath.Join(t.TempDir(), "irc.db"))

	out, err := runCmd(t, "check-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "irc.example.org idle_timeout=1h0m0s max_clients=10 bot=true")
}

func TestCheckConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("networks: []\n"), 0o600))

	_, err := runCmd(t, "check-config", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one entry in networks")
}

func TestAllocations_ListAndRelease(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "irc.db")
	path := writeConfig(t, dbPath)

	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	alloc := ipv6.New(st, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	cfg := irc.NewClientConfig(id.UserID("@alice:example.org"), "irc.example.org", "")
	require.NoError(t, alloc.Allocate(context.Background(), "2001:db8::/64", cfg))
	require.NoError(t, st.Close())

	out, err := runCmd(t, "allocations", "list", "--config", path, "--network", "irc.example.org")
	require.NoError(t, err)
	assert.Contains(t, out, "OWNER")
	assert.Contains(t, out, "@alice:example.org")
	assert.Contains(t, out, cfg.IPv6Address())

	out, err = runCmd(t, "allocations", "release", "--config", path, "--network", "irc.example.org", "--user", "@alice:example.org")
	require.NoError(t, err)
	assert.Contains(t, out, "released @alice:example.org on irc.example.org")

	out, err = runCmd(t, "allocations", "list", "--config", path, "--network", "irc.example.org")
	require.NoError(t, err)
	assert.NotContains(t, out, "@alice:example.org")
}

func TestAllocations_UnknownNetwork(t *testing.T) {
	path := writeConfig(t, filepath.Join(t.TempDir(), "irc.db"))

	_, err := runCmd(t, "allocations", "list", "--config", path, "--network", "irc.nowhere.net")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestHealth_RequiresGRPCAddr(t *testing.T) {
	path := writeConfig(t, filepath.Join(t.TempDir(), "irc.db"))

	_, err := runCmd(t, "health", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grpc_addr")
}

func TestSetupLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := setupLogger(config.LoggingConfig{Level: tt.level, Format: "json"}, &bytes.Buffer{})
			assert.True(t, logger.Enabled(context.Background(), tt.want))
			if tt.want > slog.LevelDebug {
				assert.False(t, logger.Enabled(context.Background(), tt.want-1))
			}
		})
	}
}

func TestColorHandler_WritesAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)

	logger.With("server", "irc.example.org").WithGroup("client").Info("connected", "nick", "alice[m]")

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "connected")
	assert.Contains(t, line, "irc.example.org")
	assert.Contains(t, line, "client.nick=")
	assert.Contains(t, line, "alice[m]")
	assert.Contains(t, line, "server=irc.example.org")
}
