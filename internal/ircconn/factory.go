// ABOUTME: Factory that dials IRC networks and registers a gopkg.in/irc.v4 client.
// ABOUTME: Supports TLS and binding the socket to a per-identity IPv6 address.

package ircconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/2389/coven-irc/internal/irc"
	ircproto "gopkg.in/irc.v4"
)

const (
	defaultDialTimeout     = 30 * time.Second
	defaultRegisterTimeout = 60 * time.Second
	defaultPingFrequency   = time.Minute
	defaultPingTimeout     = 2 * time.Minute
)

// Factory creates Conns. It implements irc.Factory.
type Factory struct {
	logger          *slog.Logger
	dialTimeout     time.Duration
	registerTimeout time.Duration
	tlsConfig       *tls.Config
}

// Option configures a Factory.
type Option func(*Factory)

// WithDialTimeout bounds the TCP and TLS handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(f *Factory) { f.dialTimeout = d }
}

// WithRegistrationTimeout bounds the wait for RPL_WELCOME.
func WithRegistrationTimeout(d time.Duration) Option {
	return func(f *Factory) { f.registerTimeout = d }
}

// WithTLSConfig sets the base TLS config for TLS networks.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(f *Factory) { f.tlsConfig = cfg }
}

// NewFactory creates a Factory.
func NewFactory(logger *slog.Logger, opts ...Option) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		logger:          logger.With("component", "ircconn"),
		dialTimeout:     defaultDialTimeout,
		registerTimeout: defaultRegisterTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create dials server, calls onCreated, then waits until the server has
// accepted registration.
func (f *Factory) Create(ctx context.Context, server *irc.Server, opts irc.ConnectOptions, onCreated func(irc.Conn)) (irc.Conn, error) {
	netConn, err := f.dial(ctx, server, opts.LocalAddress)
	if err != nil {
		return nil, err
	}

	c := newConn(server.Domain, opts.Nick, f.logger.With("domain", server.Domain, "nick", opts.Nick))
	c.netConn = netConn
	c.client = ircproto.NewClient(netConn, ircproto.ClientConfig{
		Nick:          opts.Nick,
		Pass:          opts.Password,
		User:          opts.Username,
		Name:          opts.Realname,
		PingFrequency: defaultPingFrequency,
		PingTimeout:   defaultPingTimeout,
		Handler:       ircproto.HandlerFunc(c.handle),
	})

	if onCreated != nil {
		onCreated(c)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(runCtx)

	c.announcePort(localPort(netConn))

	regCtx, regCancel := context.WithTimeout(ctx, f.registerTimeout)
	defer regCancel()

	select {
	case <-c.registered:
		c.logger.Info("registered with IRC network", "registered_nick", c.Nick())
		return c, nil
	case <-c.done:
		return nil, fmt.Errorf("connection to %s closed during registration: %w", server.Address(), c.closeErr())
	case <-regCtx.Done():
		c.abort()
		<-c.done
		return nil, fmt.Errorf("registering with %s: %w", server.Address(), regCtx.Err())
	}
}

func (f *Factory) dial(ctx context.Context, server *irc.Server, localAddress string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: f.dialTimeout}
	if localAddress != "" {
		ip := net.ParseIP(localAddress)
		if ip == nil {
			return nil, fmt.Errorf("invalid local address %q", localAddress)
		}
		dialer.LocalAddr = &net.TCPAddr{IP: ip}
	}

	raw, err := dialer.DialContext(ctx, "tcp", server.Address())
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", server.Address(), err)
	}
	if !server.TLS {
		return raw, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if f.tlsConfig != nil {
		cfg = f.tlsConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = server.Domain
	}

	tlsConn := tls.Client(raw, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", server.Address(), err)
	}
	return tlsConn, nil
}

func localPort(conn net.Conn) int {
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}
