// ABOUTME: Gateway orchestrator that wires the client pool, broker and allocator
// ABOUTME: Runs the gRPC health, HTTP and identd listeners until shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-irc/internal/broker"
	"github.com/2389/coven-irc/internal/config"
	"github.com/2389/coven-irc/internal/ident"
	"github.com/2389/coven-irc/internal/ipv6"
	"github.com/2389/coven-irc/internal/irc"
	"github.com/2389/coven-irc/internal/ircconn"
	"github.com/2389/coven-irc/internal/metrics"
	"github.com/2389/coven-irc/internal/pool"
	"github.com/2389/coven-irc/internal/store"
)

const (
	shutdownTimeout = 10 * time.Second
	healthInterval  = 15 * time.Second
)

// Gateway runs the IRC side of the bridge.
type Gateway struct {
	config   *config.Config
	pool     *pool.Pool
	broker   *broker.Broker
	store    store.Store
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	logger   *slog.Logger

	identMapper *ident.Mapper
	identServer *ident.Server

	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
}

// Option customises a Gateway.
type Option func(*options)

type options struct {
	factory irc.Factory
	sender  broker.Sender
}

// WithFactory replaces the IRC connection factory.
func WithFactory(f irc.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithSender replaces the Matrix client used for notices.
func WithSender(s broker.Sender) Option {
	return func(o *options) { o.sender = s }
}

// New creates a Gateway from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	if o.sender == nil && cfg.Matrix.Homeserver != "" {
		client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("creating matrix client: %w", err)
		}
		o.sender = client
	}
	if o.factory == nil {
		o.factory = ircconn.NewFactory(logger)
	}

	g := &Gateway{
		config:      cfg,
		store:       st,
		metrics:     m,
		registry:    registry,
		logger:      logger.With("component", "gateway"),
		identMapper: ident.NewMapper(),
	}

	g.broker = broker.New(broker.Config{
		Sender:     o.sender,
		AdminRooms: cfg.AdminRooms(),
		OnFrame:    g.onFrame,
		Logger:     logger,
	})

	servers := cfg.Servers()
	g.pool, err = pool.New(pool.Config{
		Servers:        servers,
		Factory:        o.factory,
		Resolver:       ident.NewResolver(servers...),
		Allocator:      ipv6.New(st, logger, ipv6.WithObserver(m)),
		Broker:         g.broker,
		Ident:          g.identMapper,
		Logger:         logger,
		Metrics:        m,
		ReconnectDelay: cfg.Bridge.ReconnectDelay,
	})
	if err != nil {
		g.broker.Close()
		_ = st.Close()
		return nil, fmt.Errorf("creating client pool: %w", err)
	}

	if cfg.Ident.Enabled {
		g.identServer = ident.NewServer(g.identMapper, logger)
	}

	g.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	g.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(g.grpcServer, g.health)
	g.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Pool returns the client pool.
func (g *Gateway) Pool() *pool.Pool {
	return g.pool
}

// onFrame receives every deduplicated inbound IRC frame.
func (g *Gateway) onFrame(f broker.Frame) {
	g.metrics.FrameRelayed(f.Network, string(f.Event.Type))
	g.logger.Debug("relaying IRC frame",
		"network", f.Network,
		"type", string(f.Event.Type),
		"nick", f.Event.Nick,
		"channel", f.Event.Channel,
	)
}

// Run connects the network bots and serves until ctx is cancelled.
// Returns nil on graceful shutdown, or an error if a listener fails.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 3)
	if err := g.startServers(ctx, errCh); err != nil {
		_ = g.gracefulShutdown()
		return err
	}

	if err := g.pool.ConnectBots(ctx); err != nil {
		g.logger.Warn("not every bot connected", "error", err)
	}
	g.refreshHealth()
	go g.healthLoop(ctx)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServers starts the configured listeners. Empty addresses are skipped.
func (g *Gateway) startServers(ctx context.Context, errCh chan error) error {
	if addr := g.config.Server.GRPCAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on gRPC address: %w", err)
		}
		go func() {
			g.logger.Info("gRPC server listening", "addr", ln.Addr().String())
			if err := g.grpcServer.Serve(ln); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	if addr := g.config.Server.HTTPAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on HTTP address: %w", err)
		}
		go func() {
			g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
			if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	if g.identServer != nil {
		go func() {
			if err := g.identServer.ListenAndServe(ctx, g.config.Ident.Address); err != nil {
				errCh <- fmt.Errorf("identd: %w", err)
			}
		}()
	}

	return nil
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown disconnects every client and stops the listeners.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.health.Shutdown()

	var errs []error
	errs = appendCloseError(errs, "client pool", g.pool.Close(ctx))
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.shutdownGRPCServer(ctx)
	g.broker.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// HealthServiceName is the gRPC health service of a network.
func HealthServiceName(domain string) string {
	return "irc/" + strings.ToLower(domain)
}
