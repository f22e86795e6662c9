// ABOUTME: Entry point for coven-irc, the IRC side of the Matrix bridge
// ABOUTME: Builds the cobra command tree and handles signals

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, set at build time.
var (
	version = "dev"
	commit  = "none"
)

const banner = `
  ___ _____   _____ _ __       (_)_ __ ___
 / __/ _ \ \ / / _ \ '_ \ _____| | '__/ __|
| (_| (_) \ V /  __/ | | |_____| | | | (__
 \___\___/ \_/ \___|_| |_|     |_|_|  \___|
`

// getConfigPath returns the path to the bridge config file.
// Priority: COVEN_IRC_CONFIG env var > XDG_CONFIG_HOME/coven/irc.yaml > ~/.config/coven/irc.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_IRC_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "irc.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "irc.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Cobra has already printed the error.
	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "coven-irc",
		Short: "IRC connection supervisor for the Matrix bridge",
		Long: `coven-irc keeps one IRC connection per bridged Matrix user and
a bot per network, and reports their state over gRPC health and HTTP.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML or TOML configuration file (default: $COVEN_IRC_CONFIG or ~/.config/coven/irc.yaml)")

	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return getConfigPath()
	}

	rootCmd.AddCommand(
		buildServeCmd(resolve),
		buildCheckConfigCmd(resolve),
		buildHealthCmd(resolve),
		buildAllocationsCmd(resolve),
	)
	return rootCmd
}
