// ABOUTME: In-memory connections and factory for pool tests.

package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/2389/coven-irc/internal/bridged"
	"github.com/2389/coven-irc/internal/irc"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	irc.Emitter

	mu           sync.Mutex
	nick         string
	members      map[string]bool
	dead         bool
	calls        []string
	onDisconnect func()
}

func newFakeConn(nick string) *fakeConn {
	return &fakeConn{nick: nick, members: make(map[string]bool)}
}

func (f *fakeConn) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return nil
}

func (f *fakeConn) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeConn) hasCall(call string) bool {
	for _, c := range f.recorded() {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeConn) Nick() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nick
}

func (f *fakeConn) InChannel(channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[strings.ToLower(channel)]
}

func (f *fakeConn) Channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for ch := range f.members {
		out = append(out, ch)
	}
	return out
}

func (f *fakeConn) ISupport(string) (string, bool) { return "", false }

// Join confirms every channel straight away.
func (f *fakeConn) Join(channel string) error {
	_ = f.record("JOIN %s", channel)
	f.mu.Lock()
	f.members[strings.ToLower(channel)] = true
	nick := f.nick
	f.mu.Unlock()

	go f.Emit(irc.Event{Type: irc.EventJoin, Nick: nick, Channel: channel})
	return nil
}

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
	return &irc.WhoisInfo{Nick: nick, User: nick}, nil
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

func (f *fakeConn) OnConnect(func(localPort int)) {}

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

type fakeFactory struct {
	mu      sync.Mutex
	conns   []*fakeConn
	opts    []irc.ConnectOptions
	release chan struct{}
	err     error
}

func (f *fakeFactory) Create(ctx context.Context, server *irc.Server, opts irc.ConnectOptions, onCreated func(irc.Conn)) (irc.Conn, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.opts = append(f.opts, opts)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	conn := newFakeConn(opts.Nick)
	onCreated(conn)

	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	return conn, nil
}

func (f *fakeFactory) created() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

func (f *fakeFactory) waitForConns(t *testing.T, n int) []*fakeConn {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.created()) >= n
	}, 2*time.Second, time.Millisecond)
	return f.created()
}

type recordingBroker struct {
	mu      sync.Mutex
	hooked  int
	removed int
}

func (b *recordingBroker) SendMetadata(*bridged.Client, string) {}

func (b *recordingBroker) AddHooks(*bridged.Client, irc.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooked++
}

func (b *recordingBroker) RemoveHooks(*bridged.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed++
}

func (b *recordingBroker) removedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removed
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
