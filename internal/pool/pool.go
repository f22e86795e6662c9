// ABOUTME: Directory of bridged clients keyed by network and Matrix user.
// ABOUTME: Serialises creation through a work queue and reconnects dropped clients.

package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-irc/internal/bridged"
	"github.com/2389/coven-irc/internal/irc"
	"github.com/2389/coven-irc/internal/metrics"
	"github.com/2389/coven-irc/internal/workqueue"
	"maunium.net/go/mautrix/id"
)

// ErrUnknownNetwork indicates the domain is not a configured network.
var ErrUnknownNetwork = errors.New("unknown network")

// ErrClosed indicates the pool has been closed.
var ErrClosed = errors.New("pool closed")

const (
	defaultReconnectDelay = 5 * time.Second
	evictReason           = "Client limit exceeded"
	shutdownReason        = "Bridge shutting down"
)

// Broker is the bridged.Broker the pool detaches clients from on removal.
type Broker interface {
	bridged.Broker
	RemoveHooks(c *bridged.Client)
}

// Namer picks the initial nick of an identity. ident.Resolver implements it.
type Namer interface {
	Nick(server *irc.Server, user id.UserID) string
}

// Config configures a Pool. Servers and Factory are required.
type Config struct {
	Servers        []*irc.Server
	Factory        irc.Factory
	Resolver       bridged.Resolver
	Allocator      bridged.Allocator
	Broker         Broker
	Ident          bridged.IdentMapper
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	ReconnectDelay time.Duration
}

type key struct {
	domain string
	user   id.UserID
}

func (k key) String() string {
	if k.user == "" {
		return k.domain + "/bot"
	}
	return k.domain + "/" + string(k.user)
}

type request struct {
	key      key
	server   *irc.Server
	channels []string
}

// Pool owns every bridged client of the bridge.
type Pool struct {
	servers        map[string]*irc.Server
	factory        irc.Factory
	resolver       bridged.Resolver
	allocator      bridged.Allocator
	broker         Broker
	ident          bridged.IdentMapper
	metrics        *metrics.Metrics
	logger         *slog.Logger
	reconnectDelay time.Duration

	queue  *workqueue.Queue[key, request, *bridged.Client]
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[key]*bridged.Client
	configs map[key]*irc.ClientConfig
	timers  map[key]*time.Timer
	closed  bool
}

// New creates a Pool.
func New(cfg Config) (*Pool, error) {
	if cfg.Factory == nil {
		return nil, errors.New("pool: factory is required")
	}
	if len(cfg.Servers) == 0 {
		return nil, errors.New("pool: at least one network is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		servers:        make(map[string]*irc.Server, len(cfg.Servers)),
		factory:        cfg.Factory,
		resolver:       cfg.Resolver,
		allocator:      cfg.Allocator,
		broker:         cfg.Broker,
		ident:          cfg.Ident,
		metrics:        cfg.Metrics,
		logger:         logger.With("component", "pool"),
		reconnectDelay: delay,
		ctx:            ctx,
		cancel:         cancel,
		clients:        make(map[key]*bridged.Client),
		configs:        make(map[key]*irc.ClientConfig),
		timers:         make(map[key]*time.Timer),
	}
	for _, s := range cfg.Servers {
		p.servers[strings.ToLower(s.Domain)] = s
	}

	opts := []workqueue.Option{
		workqueue.WithName("clients"),
		workqueue.WithLogger(logger),
		workqueue.WithContext(ctx),
	}
	if cfg.Metrics != nil {
		opts = append(opts, workqueue.WithObserver(cfg.Metrics))
	}
	p.queue = workqueue.New[key, request, *bridged.Client](p.create, opts...)
	return p, nil
}

// Server returns the network with domain.
func (p *Pool) Server(domain string) (*irc.Server, bool) {
	s, ok := p.servers[strings.ToLower(domain)]
	return s, ok
}

// Servers lists the configured networks sorted by domain.
func (p *Pool) Servers() []*irc.Server {
	out := make([]*irc.Server, 0, len(p.servers))
	for _, s := range p.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Client returns the connected client of user on domain, connecting one
// if needed. Concurrent calls for the same identity share one attempt.
func (p *Pool) Client(ctx context.Context, domain string, user id.UserID) (*bridged.Client, error) {
	server, ok := p.Server(domain)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, domain)
	}
	k := key{domain: server.Domain, user: user}

	if c, ok := p.Get(server.Domain, user); ok {
		return c, nil
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	return p.queue.Enqueue(k, request{key: k, server: server}).Wait(ctx)
}

// Bot returns the bridge bot of domain.
func (p *Pool) Bot(ctx context.Context, domain string) (*bridged.Client, error) {
	return p.Client(ctx, domain, "")
}

// ConnectBots connects the bot of every network that enables one. It
// returns the first error after trying them all.
func (p *Pool) ConnectBots(ctx context.Context) error {
	var firstErr error
	for _, s := range p.Servers() {
		if !s.IsBotEnabled() {
			continue
		}
		if _, err := p.Bot(ctx, s.Domain); err != nil {
			p.logger.Error("failed to connect bot", "domain", s.Domain, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Get returns the live client of user on domain without connecting.
func (p *Pool) Get(domain string, user id.UserID) (*bridged.Client, bool) {
	server, ok := p.Server(domain)
	if !ok {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[key{domain: server.Domain, user: user}]
	if !ok || c.IsDead() {
		return nil, false
	}
	return c, true
}

// Clients lists the tracked clients of domain, bots included.
func (p *Pool) Clients(domain string) []*bridged.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*bridged.Client
	for k, c := range p.clients {
		if strings.EqualFold(k.domain, domain) {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of tracked clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Remove disconnects user's client on domain and forgets it.
func (p *Pool) Remove(ctx context.Context, domain string, user id.UserID, reason string) error {
	server, ok := p.Server(domain)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNetwork, domain)
	}
	k := key{domain: server.Domain, user: user}

	p.mu.Lock()
	c, ok := p.clients[k]
	delete(p.clients, k)
	delete(p.configs, k)
	p.stopTimerLocked(k)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return p.release(ctx, c, reason)
}

// Close disconnects every client and stops reconnecting.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for k := range p.timers {
		p.stopTimerLocked(k)
	}
	clients := make([]*bridged.Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.clients = make(map[key]*bridged.Client)
	p.mu.Unlock()

	p.logger.Info("closing client pool", "clients", len(clients))

	var errs []error
	for _, c := range clients {
		if err := p.release(ctx, c, shutdownReason); err != nil {
			errs = append(errs, err)
		}
	}
	p.cancel()
	return errors.Join(errs...)
}

func (p *Pool) release(ctx context.Context, c *bridged.Client, reason string) error {
	if p.broker != nil {
		p.broker.RemoveHooks(c)
	}
	return c.Disconnect(ctx, reason)
}

// create is the work queue's critical section.
func (p *Pool) create(ctx context.Context, req request) (*bridged.Client, error) {
	k := req.key

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := p.clients[k]; ok && !c.IsDead() {
		p.mu.Unlock()
		if len(req.channels) > 0 {
			go p.rejoin(c, req.channels)
		}
		return c, nil
	}
	cfg, ok := p.configs[k]
	if !ok {
		cfg = irc.NewClientConfig(k.user, req.server.Domain, p.initialNick(req.server, k.user))
		p.configs[k] = cfg
	}
	p.mu.Unlock()

	if k.user != "" {
		p.evictIfFull(ctx, req.server)
	}

	c := bridged.New(req.server, cfg, k.user, k.user == "", bridged.Deps{
		Factory:   p.factory,
		Resolver:  p.resolver,
		Allocator: p.allocator,
		Broker:    p.broker,
		Ident:     p.ident,
		Logger:    p.logger,
		Metrics:   p.metrics,
	})

	if c.Disabled() {
		p.logger.Debug("bot disabled on network, not connecting", "domain", req.server.Domain)
		p.track(k, c)
		return c, nil
	}

	c.Subscribe(func(ev bridged.LifecycleEvent) { p.onLifecycle(k, ev) })

	if _, err := c.Connect(ctx); err != nil {
		return nil, err
	}
	p.track(k, c)

	if len(req.channels) > 0 {
		go p.rejoin(c, req.channels)
	}
	return c, nil
}

func (p *Pool) track(k key, c *bridged.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[k] = c
	p.logger.Info("client added", "client", k.String(), "total_clients", len(p.clients))
}

func (p *Pool) initialNick(server *irc.Server, user id.UserID) string {
	if namer, ok := p.resolver.(Namer); ok {
		return namer.Nick(server, user)
	}
	if user == "" {
		return server.BotNick
	}
	return ""
}

// evictIfFull disconnects the least recently active user client of
// server when the network is at its cap.
func (p *Pool) evictIfFull(ctx context.Context, server *irc.Server) {
	if server.MaxClients <= 0 {
		return
	}

	p.mu.Lock()
	var (
		count  int
		oldest *bridged.Client
		oldKey key
	)
	for k, c := range p.clients {
		if k.domain != server.Domain || k.user == "" || c.IsDead() {
			continue
		}
		count++
		if oldest == nil || c.LastActionTime().Before(oldest.LastActionTime()) {
			oldest, oldKey = c, k
		}
	}
	if count < server.MaxClients || oldest == nil {
		p.mu.Unlock()
		return
	}
	delete(p.clients, oldKey)
	p.mu.Unlock()

	p.logger.Info("evicting least recently active client",
		"client", oldKey.String(),
		"max_clients", server.MaxClients,
	)
	if err := p.release(ctx, oldest, evictReason); err != nil {
		p.logger.Warn("failed to disconnect evicted client", "client", oldKey.String(), "error", err)
	}
}

func (p *Pool) onLifecycle(k key, ev bridged.LifecycleEvent) {
	switch ev.Type {
	case bridged.EventNickChange:
		ev.Client.ClientConfig().SetDesiredNick(ev.NewNick)
	case bridged.EventDisconnected:
		p.onDisconnected(k, ev.Client)
	}
}

func (p *Pool) onDisconnected(k key, c *bridged.Client) {
	if p.broker != nil {
		p.broker.RemoveHooks(c)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if current, ok := p.clients[k]; ok && current == c {
		delete(p.clients, k)
	}
	if p.closed || c.ExplicitlyDisconnected() {
		return
	}

	channels := c.Channels()
	server := c.Server()
	p.logger.Info("scheduling reconnect",
		"client", k.String(),
		"delay", p.reconnectDelay,
		"channels", len(channels),
	)

	p.stopTimerLocked(k)
	p.timers[k] = time.AfterFunc(p.reconnectDelay, func() {
		p.mu.Lock()
		delete(p.timers, k)
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		p.queue.Enqueue(k, request{key: k, server: server, channels: channels})
	})
}

func (p *Pool) stopTimerLocked(k key) {
	if t, ok := p.timers[k]; ok {
		t.Stop()
		delete(p.timers, k)
	}
}

func (p *Pool) rejoin(c *bridged.Client, channels []string) {
	for _, ch := range channels {
		if _, err := c.JoinChannel(p.ctx, ch); err != nil {
			p.logger.Warn("failed to rejoin channel after reconnect",
				"client", c.String(),
				"channel", ch,
				"error", err,
			)
		}
	}
}
