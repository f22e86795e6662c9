// ABOUTME: In-memory transport, clock and collaborators for bridged client tests.

package bridged

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/2389/coven-irc/internal/irc"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"
)

type fakeConn struct {
	irc.Emitter

	mu           sync.Mutex
	nick         string
	members      map[string]bool
	isupport     map[string]string
	dead         bool
	calls        []string
	onDisconnect func()
	onConnect    []func(int)
	whois        *irc.WhoisInfo
}

func newFakeConn(nick string) *fakeConn {
	return &fakeConn{
		nick:     nick,
		members:  make(map[string]bool),
		isupport: make(map[string]string),
	}
}

func (f *fakeConn) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return nil
}

func (f *fakeConn) Nick() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nick
}

func (f *fakeConn) setNick(nick string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nick = nick
}

func (f *fakeConn) InChannel(channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[strings.ToLower(channel)]
}

func (f *fakeConn) setMember(channel string, member bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[strings.ToLower(channel)] = member
}

func (f *fakeConn) Channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for ch, ok := range f.members {
		if ok {
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out
}

func (f *fakeConn) ISupport(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.isupport[key]
	return v, ok
}

func (f *fakeConn) Join(channel string) error { return f.record("JOIN %s", channel) }

func (f *fakeConn) Part(channel, reason string) error {
	return f.record("PART %s :%s", channel, reason)
}

func (f *fakeConn) Say(target, text string) error {
	return f.record("PRIVMSG %s :%s", target, text)
}

func (f *fakeConn) Notice(target, text string) error {
	return f.record("NOTICE %s :%s", target, text)
}

func (f *fakeConn) Action(target, text string) error {
	return f.record("ACTION %s :%s", target, text)
}

func (f *fakeConn) Send(command string, args ...string) error {
	return f.record("%s", strings.Join(append([]string{command}, args...), " "))
}

func (f *fakeConn) Whois(ctx context.Context, nick string) (*irc.WhoisInfo, error) {
	_ = f.record("WHOIS %s", nick)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.whois == nil {
		return &irc.WhoisInfo{Nick: nick}, nil
	}
	return f.whois, nil
}

func (f *fakeConn) Dead() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dead
}

func (f *fakeConn) Disconnect(ctx context.Context, reason string) error {
	f.mu.Lock()
	f.dead = true
	f.mu.Unlock()
	return f.record("QUIT :%s", reason)
}

func (f *fakeConn) SetOnDisconnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = fn
}

func (f *fakeConn) OnConnect(fn func(localPort int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = append(f.onConnect, fn)
}

// drop simulates the network closing the connection.
func (f *fakeConn) drop() {
	f.mu.Lock()
	f.dead = true
	fn := f.onDisconnect
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeConn) tcpConnected(port int) {
	f.mu.Lock()
	fns := append([]func(int){}, f.onConnect...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(port)
	}
}

func (f *fakeConn) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeConn) countPrefix(prefix string) int {
	n := 0
	for _, call := range f.recorded() {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeConn) waitForCalls(t *testing.T, prefix string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.countPrefix(prefix) >= n
	}, 2*time.Second, time.Millisecond, "waiting for %d %q calls, have %v", n, prefix, f.recorded())
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	fn    func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	active := !t.done
	t.done = true
	return active
}

// Advance moves time forward and runs due timers on the caller's goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

type recordingBroker struct {
	mu       sync.Mutex
	metadata []string
	hooked   int
}

func (b *recordingBroker) SendMetadata(c *Client, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metadata = append(b.metadata, text)
}

func (b *recordingBroker) AddHooks(c *Client, conn irc.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooked++
}

func (b *recordingBroker) messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.metadata...)
}

type recordingIdent struct {
	mu       sync.Mutex
	mappings map[int]string
}

func (r *recordingIdent) SetMapping(username string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mappings == nil {
		r.mappings = make(map[int]string)
	}
	r.mappings[port] = username
}

type staticAllocator struct {
	address string
	prefix  string
}

func (a *staticAllocator) Allocate(ctx context.Context, prefix string, cfg *irc.ClientConfig) error {
	a.prefix = prefix
	cfg.SetIPv6Address(a.address)
	return nil
}

type fakeFactory struct {
	mu    sync.Mutex
	conn  *fakeConn
	err   error
	opts  []irc.ConnectOptions
	calls int
}

func (f *fakeFactory) Create(ctx context.Context, server *irc.Server, opts irc.ConnectOptions, onCreated func(irc.Conn)) (irc.Conn, error) {
	f.mu.Lock()
	f.calls++
	f.opts = append(f.opts, opts)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	onCreated(f.conn)
	return f.conn, nil
}

type harness struct {
	server  *irc.Server
	conn    *fakeConn
	clock   *fakeClock
	broker  *recordingBroker
	factory *fakeFactory
	client  *Client
}

func newHarness(t *testing.T, server *irc.Server, isBot bool) *harness {
	t.Helper()
	if server == nil {
		server = &irc.Server{Domain: "irc.example.org"}
	}
	h := &harness{
		server: server,
		conn:   newFakeConn("alice"),
		clock:  newFakeClock(),
		broker: &recordingBroker{},
	}
	h.factory = &fakeFactory{conn: h.conn}

	user := id.UserID("@alice:example.org")
	if isBot {
		user = ""
	}
	cfg := irc.NewClientConfig(user, server.Domain, "alice")
	h.client = New(server, cfg, user, isBot, Deps{
		Factory: h.factory,
		Broker:  h.broker,
		Clock:   h.clock,
	})
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	_, err := h.client.Connect(testCtx(t))
	require.NoError(t, err)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
