// ABOUTME: Tests for metadata delivery and frame relay.

package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/2389/coven-irc/internal/bridged"
	"github.com/2389/coven-irc/internal/irc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

type sentEvent struct {
	room    id.RoomID
	content *event.MessageEventContent
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentEvent
	err  error
}

func (f *fakeSender) SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, _ := contentJSON.(*event.MessageEventContent)
	f.sent = append(f.sent, sentEvent{room: roomID, content: content})
	if f.err != nil {
		return nil, f.err
	}
	return &mautrix.RespSendEvent{EventID: id.EventID("$event")}, nil
}

func (f *fakeSender) events() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.sent...)
}

// hookConn is a Conn that only supports subscriptions.
type hookConn struct {
	irc.Conn
	events irc.Emitter
}

func (h *hookConn) Subscribe(eventType irc.EventType, handler irc.Handler) irc.Subscription {
	return h.events.Subscribe(eventType, handler)
}

func newClient(user id.UserID, domain string) *bridged.Client {
	server := &irc.Server{Domain: domain}
	cfg := irc.NewClientConfig(user, domain, "alice")
	return bridged.New(server, cfg, user, user == "", bridged.Deps{})
}

func TestSendMetadata_PostsHTMLNoticeToAdminRoom(t *testing.T) {
	sender := &fakeSender{}
	b := New(Config{
		Sender: sender,
		AdminRooms: map[id.UserID]id.RoomID{
			"@alice:example.org": "!alice:example.org",
		},
	})

	b.SendMetadata(newClient("@alice:example.org", "irc.example.org"), "You've been connected as **alice**.")
	b.Close()

	sent := sender.events()
	require.Len(t, sent, 1)
	assert.Equal(t, id.RoomID("!alice:example.org"), sent[0].room)
	require.NotNil(t, sent[0].content)
	assert.Equal(t, event.MsgNotice, sent[0].content.MsgType)
	assert.Equal(t, "You've been connected as **alice**.", sent[0].content.Body)
	assert.Equal(t, event.FormatHTML, sent[0].content.Format)
	assert.Contains(t, sent[0].content.FormattedBody, "<strong>alice</strong>")
}

func TestSendMetadata_FallsBackToWildcardRoom(t *testing.T) {
	sender := &fakeSender{}
	b := New(Config{
		Sender:     sender,
		AdminRooms: map[id.UserID]id.RoomID{FallbackRoomKey: "!ops:example.org"},
	})

	b.SendMetadata(newClient("@bob:example.org", "irc.example.org"), "hello")
	b.SendMetadata(newClient("", "irc.example.org"), "bot notice")
	b.Close()

	sent := sender.events()
	require.Len(t, sent, 2)
	for _, ev := range sent {
		assert.Equal(t, id.RoomID("!ops:example.org"), ev.room)
	}
}

func TestSendMetadata_DroppedWithoutRoom(t *testing.T) {
	sender := &fakeSender{}
	b := New(Config{Sender: sender})

	b.SendMetadata(newClient("@bob:example.org", "irc.example.org"), "hello")
	b.Close()

	assert.Empty(t, sender.events())
}

func TestSendMetadata_SendErrorIsLogged(t *testing.T) {
	sender := &fakeSender{err: errors.New("M_FORBIDDEN")}
	b := New(Config{
		Sender:     sender,
		AdminRooms: map[id.UserID]id.RoomID{FallbackRoomKey: "!ops:example.org"},
	})

	b.SendMetadata(newClient("@bob:example.org", "irc.example.org"), "hello")
	b.Close()

	assert.Len(t, sender.events(), 1)
}

func TestSendMetadata_DoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	blocking := &blockingSender{release: release}
	b := New(Config{
		Sender:     blocking,
		AdminRooms: map[id.UserID]id.RoomID{FallbackRoomKey: "!ops:example.org"},
	})

	done := make(chan struct{})
	go func() {
		b.SendMetadata(newClient("@bob:example.org", "irc.example.org"), "hello")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendMetadata blocked on the Matrix send")
	}
	close(release)
	b.Close()
}

type blockingSender struct {
	release chan struct{}
}

func (s *blockingSender) SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &mautrix.RespSendEvent{}, nil
}

func TestAddHooks_RelaysEachFrameOncePerNetwork(t *testing.T) {
	var (
		mu     sync.Mutex
		frames []Frame
	)
	b := New(Config{OnFrame: func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f)
	}})
	defer b.Close()

	alice := newClient("@alice:example.org", "irc.example.org")
	bob := newClient("@bob:example.org", "irc.example.org")
	aliceConn := &hookConn{}
	bobConn := &hookConn{}
	b.AddHooks(alice, aliceConn)
	b.AddHooks(bob, bobConn)
	assert.Equal(t, 2, b.Hooked())

	msg := irc.Event{Type: irc.EventMessage, Nick: "carol", Channel: "#go", Text: "hi"}
	aliceConn.events.Emit(msg)
	bobConn.events.Emit(msg)
	bobConn.events.Emit(irc.Event{Type: irc.EventJoin, Nick: "dave", Channel: "#go"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, frames, 2)
	assert.Equal(t, "irc.example.org", frames[0].Network)
	assert.Same(t, alice, frames[0].Client)
	assert.Equal(t, "hi", frames[0].Event.Text)
	assert.Equal(t, irc.EventJoin, frames[1].Event.Type)
}

func TestAddHooks_RepeatedLineFromSameClientRelayed(t *testing.T) {
	var (
		mu     sync.Mutex
		frames []Frame
	)
	b := New(Config{OnFrame: func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f)
	}})
	defer b.Close()

	alice := newClient("@alice:example.org", "irc.example.org")
	bob := newClient("@bob:example.org", "irc.example.org")
	aliceConn := &hookConn{}
	bobConn := &hookConn{}
	b.AddHooks(alice, aliceConn)
	b.AddHooks(bob, bobConn)

	msg := irc.Event{Type: irc.EventMessage, Nick: "carol", Channel: "#go", Text: "lol"}
	aliceConn.events.Emit(msg)
	bobConn.events.Emit(msg)
	aliceConn.events.Emit(msg)
	bobConn.events.Emit(msg)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, frames, 2)
	assert.Same(t, alice, frames[0].Client)
	assert.Same(t, alice, frames[1].Client)
}

func TestAddHooks_SameFrameOnDifferentNetworksRelayedTwice(t *testing.T) {
	var count int
	b := New(Config{OnFrame: func(Frame) { count++ }})
	defer b.Close()

	libera := &hookConn{}
	oftc := &hookConn{}
	b.AddHooks(newClient("@alice:example.org", "irc.libera.chat"), libera)
	b.AddHooks(newClient("@alice:example.org", "irc.oftc.net"), oftc)

	msg := irc.Event{Type: irc.EventNotice, Nick: "ChanServ", Channel: "alice", Text: "welcome"}
	libera.events.Emit(msg)
	oftc.events.Emit(msg)

	assert.Equal(t, 2, count)
}

func TestRemoveHooks_StopsRelay(t *testing.T) {
	var count int
	b := New(Config{OnFrame: func(Frame) { count++ }})
	defer b.Close()

	c := newClient("@alice:example.org", "irc.example.org")
	conn := &hookConn{}
	b.AddHooks(c, conn)
	b.RemoveHooks(c)

	conn.events.Emit(irc.Event{Type: irc.EventMessage, Nick: "carol", Channel: "#go", Text: "hi"})
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, b.Hooked())
	assert.Equal(t, 0, conn.events.Count(irc.EventMessage))
}

func TestAddHooks_ReplacesPreviousConnection(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	c := newClient("@alice:example.org", "irc.example.org")
	first := &hookConn{}
	second := &hookConn{}
	b.AddHooks(c, first)
	b.AddHooks(c, second)

	assert.Equal(t, 0, first.events.Count(irc.EventMessage))
	assert.Equal(t, 1, second.events.Count(irc.EventMessage))
	assert.Equal(t, 1, b.Hooked())
}
