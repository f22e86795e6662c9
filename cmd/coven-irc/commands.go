// ABOUTME: Subcommands of coven-irc: serve, check-config, health and allocations
// ABOUTME: Each loads the same config file and talks to the store or the running bridge

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-irc/internal/config"
	"github.com/2389/coven-irc/internal/gateway"
	"github.com/2389/coven-irc/internal/ipv6"
	"github.com/2389/coven-irc/internal/irc"
	"github.com/2389/coven-irc/internal/store"
)

func buildServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect the network bots and serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath())
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	for _, n := range cfg.Networks {
		green.Print("    ▶ ")
		fmt.Printf("Network:    %s (bot: %v)\n", n.Server().Address(), n.Bot.Enabled)
	}
	if cfg.Matrix.Homeserver != "" {
		green.Print("    ▶ ")
		fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	}
	fmt.Println()

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func buildCheckConfigCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is valid\n", path)
			for _, n := range cfg.Networks {
				fmt.Fprintf(out, "  %s idle_timeout=%s max_clients=%d bot=%v\n",
					n.Domain, n.IdleTimeout, n.MaxClients, n.Bot.Enabled)
			}
			return nil
		},
	}
}

func buildHealthCmd(configPath func() string) *cobra.Command {
	var network string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the running bridge's gRPC health service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Server.GRPCAddr == "" {
				return fmt.Errorf("server.grpc_addr is not configured")
			}

			service := ""
			if network != "" {
				service = gateway.HealthServiceName(network)
			}
			status, err := checkHealth(cmd.Context(), cfg.Server.GRPCAddr, service)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			if status != grpc_health_v1.HealthCheckResponse_SERVING {
				return fmt.Errorf("unhealthy: %s", status)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&network, "network", "n", "", "Report a single network's bot instead of the bridge")
	return cmd
}

func checkHealth(ctx context.Context, addr, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus(), nil
}

func buildAllocationsCmd(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocations",
		Short: "Inspect and release per-user IPv6 addresses",
	}

	var listNetwork string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the addresses assigned on a network",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAllocator(configPath(), listNetwork, func(a *ipv6.Allocator, server *irc.Server) error {
				assignments, err := a.Assignments(cmd.Context(), server.IPv6Prefix)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "OWNER\tADDRESS\tCOUNTER\tCREATED")
				for _, as := range assignments {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", as.Owner, as.Address, as.Counter, as.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVarP(&listNetwork, "network", "n", "", "Network domain")
	_ = list.MarkFlagRequired("network")

	var releaseNetwork, releaseUser string
	release := &cobra.Command{
		Use:   "release",
		Short: "Forget the address of a user (or the bot when --user is empty)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAllocator(configPath(), releaseNetwork, func(a *ipv6.Allocator, server *irc.Server) error {
				cfg := irc.NewClientConfig(id.UserID(releaseUser), server.Domain, "")
				if err := a.Release(cmd.Context(), server.IPv6Prefix, cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %s on %s\n", ipv6.Owner(cfg), server.Domain)
				return nil
			})
		},
	}
	release.Flags().StringVarP(&releaseNetwork, "network", "n", "", "Network domain")
	release.Flags().StringVarP(&releaseUser, "user", "u", "", "Matrix user ID")
	_ = release.MarkFlagRequired("network")

	cmd.AddCommand(list, release)
	return cmd
}

func withAllocator(configPath, network string, fn func(*ipv6.Allocator, *irc.Server) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var server *irc.Server
	for _, s := range cfg.Servers() {
		if strings.EqualFold(s.Domain, network) {
			server = s
		}
	}
	if server == nil {
		return fmt.Errorf("network %q is not configured", network)
	}
	if server.IPv6Prefix == "" {
		return fmt.Errorf("network %q has no ipv6_prefix", network)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	return fn(ipv6.New(st, setupLogger(cfg.Logging, os.Stderr)), server)
}
