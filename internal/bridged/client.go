// ABOUTME: Bridged client owning one virtual IRC identity's connection lifecycle.
// ABOUTME: Handles connect, disconnect, nick tracking, idle timeout and lifecycle events.

package bridged

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-irc/internal/irc"
	"github.com/2389/coven-irc/internal/metrics"
	"github.com/google/uuid"
	"maunium.net/go/mautrix/id"
)

const disconnectTimeout = 30 * time.Second

// Resolver works out the nick, username and realname an identity
// registers with.
type Resolver interface {
	Resolve(ctx context.Context, cfg *irc.ClientConfig, user id.UserID) (irc.Names, error)
}

// Allocator assigns a local IPv6 address inside prefix and records it
// with cfg.SetIPv6Address.
type Allocator interface {
	Allocate(ctx context.Context, prefix string, cfg *irc.ClientConfig) error
}

// Broker relays protocol events and metadata notices to Matrix.
// Implementations must not block the caller.
type Broker interface {
	SendMetadata(c *Client, text string)
	AddHooks(c *Client, conn irc.Conn)
}

// IdentMapper records which username owns a local port for identd.
type IdentMapper interface {
	SetMapping(username string, port int)
}

// Deps are the collaborators of a Client. Only Factory is required.
type Deps struct {
	Factory   irc.Factory
	Resolver  Resolver
	Allocator Allocator
	Broker    Broker
	Ident     IdentMapper
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Clock     Clock
}

// Client is one bridged identity on one IRC network.
type Client struct {
	id       string
	server   *irc.Server
	userID   id.UserID
	isBot    bool
	disabled bool

	factory   irc.Factory
	resolver  Resolver
	allocator Allocator
	broker    Broker
	ident     IdentMapper
	metrics   *metrics.Metrics
	clock     Clock
	logger    *slog.Logger

	ready     gate
	lifecycle lifecycle
	connectMu sync.Mutex
	writeMu   sync.Mutex

	mu                 sync.Mutex
	cfg                *irc.ClientConfig
	conn               irc.Conn
	nick               string
	channels           []string
	lastAction         time.Time
	idleTimer          Timer
	idleGen            uint64
	closed             bool
	explicitDisconnect bool
	creationFailed     bool
	subs               []irc.Subscription
}

// New creates an unconnected client. user is empty for the bridge bot.
func New(server *irc.Server, cfg *irc.ClientConfig, user id.UserID, isBot bool, deps Deps) *Client {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	if deps.Resolver == nil {
		deps.Resolver = configResolver{}
	}
	if deps.Broker == nil {
		deps.Broker = nopBroker{}
	}

	instanceID := uuid.New().String()
	c := &Client{
		id:        instanceID,
		server:    server,
		userID:    user,
		isBot:     isBot,
		disabled:  isBot && !server.IsBotEnabled(),
		factory:   deps.Factory,
		resolver:  deps.Resolver,
		allocator: deps.Allocator,
		broker:    deps.Broker,
		ident:     deps.Ident,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		cfg:       cfg,
		nick:      cfg.DesiredNick(),
	}
	c.lastAction = c.clock.Now()
	c.logger = deps.Logger.With(
		"component", "bridged",
		"nick", cfg.DesiredNick(),
		"domain", server.Domain,
		"instance", instanceID,
		"user_id", string(user),
	)
	return c
}

// Connect opens the connection and returns it once the server has
// accepted registration. After a failure the client stays dead.
func (c *Client) Connect(ctx context.Context) (irc.Conn, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.creationFailed {
		c.mu.Unlock()
		return nil, ErrCreationFailed
	}
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	cfg := c.cfg
	c.mu.Unlock()

	if c.factory == nil {
		return nil, c.failCreation(errors.New("no connection factory configured"))
	}

	names, err := c.resolver.Resolve(ctx, cfg, c.userID)
	if err != nil {
		return nil, c.failCreation(fmt.Errorf("resolving identity: %w", err))
	}

	opts := irc.ConnectOptions{
		Nick:     names.Nick,
		Username: names.Username,
		Realname: names.Realname,
		Password: cfg.Password(),
	}
	if opts.Password == "" {
		opts.Password = c.server.Password
	}
	if prefix := c.server.IPv6Prefix; prefix != "" {
		if c.allocator == nil {
			return nil, c.failCreation(errors.New("ipv6 prefix configured without an allocator"))
		}
		if err := c.allocator.Allocate(ctx, prefix, cfg); err != nil {
			return nil, c.failCreation(fmt.Errorf("allocating ipv6 address: %w", err))
		}
		opts.LocalAddress = cfg.IPv6Address()
	}

	c.logger.Info("connecting to IRC network",
		"username", opts.Username,
		"local_address", opts.LocalAddress,
	)

	conn, err := c.factory.Create(ctx, c.server, opts, func(conn irc.Conn) {
		c.onConnectionCreated(conn, names)
	})
	if err != nil {
		return nil, c.failCreation(err)
	}

	c.mu.Lock()
	c.conn = conn
	c.nick = conn.Nick()
	c.mu.Unlock()

	c.logger.Info("connected to IRC network", "registered_nick", conn.Nick())
	c.metrics.ConnectFinished(c.server.Domain, nil)
	c.lifecycle.emit(LifecycleEvent{Type: EventConnected, Client: c})
	c.ready.Open()
	c.keepAlive()

	subs := []irc.Subscription{
		conn.Subscribe(irc.EventRegistered, c.onRegistered),
		conn.Subscribe(irc.EventNick, c.onNick),
		conn.Subscribe(irc.EventError, c.onError),
	}
	c.mu.Lock()
	c.subs = append(c.subs, subs...)
	c.mu.Unlock()

	return conn, nil
}

func (c *Client) failCreation(err error) error {
	c.mu.Lock()
	c.creationFailed = true
	c.mu.Unlock()

	c.logger.Error("failed to create connection", "error", err)
	c.metrics.ConnectFinished(c.server.Domain, err)
	return &ConnectionCreationError{Server: c.server.Domain, Err: err}
}

// onConnectionCreated runs inside the factory, before registration completes.
func (c *Client) onConnectionCreated(conn irc.Conn, names irc.Names) {
	domain := c.server.Domain

	conn.SetOnDisconnect(func() {
		c.logger.Warn("connection to IRC network lost")
		c.teardown()
		c.metrics.Disconnected(domain, metrics.DisconnectLost)
		c.lifecycle.emit(LifecycleEvent{Type: EventDisconnected, Client: c})
		c.broker.SendMetadata(c, fmt.Sprintf(
			"Your connection to the IRC network '%s' has been lost. Reconnecting.", domain))
	})

	c.broker.AddHooks(c, conn)

	conn.OnConnect(func(localPort int) {
		if c.ident != nil && localPort > 0 {
			c.ident.SetMapping(names.Username, localPort)
		}
		c.broker.SendMetadata(c, fmt.Sprintf(
			"You've been connected to the IRC network '%s' as %s.", domain, conn.Nick()))
	})
}

func (c *Client) onRegistered(ev irc.Event) {
	nick := ev.Nick
	if nick == "" {
		if conn := c.connection(); conn != nil {
			nick = conn.Nick()
		}
	}
	c.updateNick(nick)
}

func (c *Client) onNick(ev irc.Event) {
	c.mu.Lock()
	tracked := c.nick
	c.mu.Unlock()

	if ev.Nick != tracked {
		return
	}
	c.updateNick(ev.NewNick)
}

func (c *Client) updateNick(newNick string) {
	c.mu.Lock()
	old := c.nick
	if newNick == "" || newNick == old {
		c.mu.Unlock()
		return
	}
	c.nick = newNick
	c.mu.Unlock()

	c.logger.Info("nick changed", "old_nick", old, "new_nick", newNick)
	c.metrics.NickChanged(c.server.Domain)
	c.lifecycle.emit(LifecycleEvent{Type: EventNickChange, Client: c, OldNick: old, NewNick: newNick})
}

func (c *Client) onError(ev irc.Event) {
	if ev.Command == "" {
		return
	}
	conn := c.connection()
	if conn == nil || conn.Dead() {
		return
	}

	args, err := json.Marshal(ev.Args)
	if err != nil {
		args = []byte("[]")
	}
	c.broker.SendMetadata(c, fmt.Sprintf(
		"Received an error on %s: %s\n%s", c.server.Domain, ev.Command, args))
}

// Disconnect quits the network with reason. It is a no-op if the client
// never connected or is already dead.
func (c *Client) Disconnect(ctx context.Context, reason string) error {
	return c.disconnect(ctx, reason, metrics.DisconnectExplicit)
}

func (c *Client) disconnect(ctx context.Context, reason, label string) error {
	c.mu.Lock()
	c.explicitDisconnect = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || conn.Dead() {
		return nil
	}

	c.logger.Info("disconnecting from IRC network", "reason", reason)
	err := conn.Disconnect(ctx, reason)
	c.teardown()
	c.metrics.Disconnected(c.server.Domain, label)
	c.lifecycle.emit(LifecycleEvent{Type: EventDisconnected, Client: c})
	if err != nil {
		return fmt.Errorf("disconnecting from %s: %w", c.server.Domain, err)
	}
	return nil
}

// teardown detaches the client's subscriptions and stops the idle timer.
func (c *Client) teardown() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.closed = true
	c.idleGen++
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// keepAlive records activity and rearms the idle timer.
func (c *Client) keepAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastAction = c.clock.Now()
	if c.closed || c.server.IdleTimeout <= 0 {
		return
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleGen++
	gen := c.idleGen
	c.idleTimer = c.clock.AfterFunc(c.server.IdleTimeout, func() { c.onIdle(gen) })
}

func (c *Client) onIdle(gen uint64) {
	c.mu.Lock()
	stale := gen != c.idleGen || c.closed
	c.mu.Unlock()
	if stale {
		return
	}

	c.logger.Info("idle timeout has expired")
	if c.server.MirrorMembership {
		c.logger.Info("not disconnecting because membership is mirrored")
		return
	}
	if c.isBot {
		c.logger.Info("not disconnecting because this is the bot")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	reason := fmt.Sprintf("Idle timeout reached: %ds", int(c.server.IdleTimeout/time.Second))
	if err := c.disconnect(ctx, reason, metrics.DisconnectIdle); err != nil {
		c.logger.Error("error when disconnecting idle client", "error", err)
		return
	}
	c.logger.Info("idle timeout reached: disconnected")
}

// Subscribe registers handler for lifecycle events and returns its ID.
func (c *Client) Subscribe(handler LifecycleHandler) string {
	return c.lifecycle.subscribe(handler)
}

// Unsubscribe removes a lifecycle handler. It reports whether id was known.
func (c *Client) Unsubscribe(id string) bool {
	return c.lifecycle.unsubscribe(id)
}

func (c *Client) connection() irc.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) write(fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return fn()
}

// ID returns the random instance ID of this client.
func (c *Client) ID() string { return c.id }

// Nick returns the nick the network currently knows this identity by.
func (c *Client) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// IsDead reports whether the client can no longer be used. A dead client
// never comes back.
func (c *Client) IsDead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.creationFailed {
		return true
	}
	return c.conn != nil && c.conn.Dead()
}

// IsBot reports whether this is the network's bridge bot.
func (c *Client) IsBot() bool { return c.isBot }

// Disabled reports whether operations are no-ops for this identity.
func (c *Client) Disabled() bool { return c.disabled }

// ExplicitlyDisconnected reports whether Disconnect (or the idle timeout)
// closed this client, as opposed to the network dropping it.
func (c *Client) ExplicitlyDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.explicitDisconnect
}

// LastActionTime is when the identity last connected or sent something.
func (c *Client) LastActionTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAction
}

// UserID returns the owning Matrix user. Empty for the bot.
func (c *Client) UserID() id.UserID { return c.userID }

// Server returns the network this client belongs to.
func (c *Client) Server() *irc.Server { return c.server }

// ClientConfig returns the identity's connection settings.
func (c *Client) ClientConfig() *irc.ClientConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetClientConfig replaces the settings used by the next Connect.
func (c *Client) SetClientConfig(cfg *irc.ClientConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Channels returns the channels this identity wants to be in.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.channels))
	copy(out, c.channels)
	return out
}

func (c *Client) String() string {
	return fmt.Sprintf("%s@%s#%s~%s", c.Nick(), c.server.Domain, c.id, c.userID)
}

// configResolver registers with the config's own nick and username.
type configResolver struct{}

func (configResolver) Resolve(_ context.Context, cfg *irc.ClientConfig, _ id.UserID) (irc.Names, error) {
	nick := cfg.DesiredNick()
	if nick == "" {
		return irc.Names{}, errors.New("no nick configured")
	}
	username := cfg.Username()
	if username == "" {
		username = nick
	}
	return irc.Names{Nick: nick, Username: username, Realname: nick}, nil
}

type nopBroker struct{}

func (nopBroker) SendMetadata(*Client, string) {}
func (nopBroker) AddHooks(*Client, irc.Conn)   {}
