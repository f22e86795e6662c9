// ABOUTME: Broker that posts metadata notices to Matrix admin rooms via mautrix.
// ABOUTME: Also subscribes to client connections and forwards deduplicated frames.

package broker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-irc/internal/bridged"
	"github.com/2389/coven-irc/internal/dedupe"
	"github.com/2389/coven-irc/internal/irc"
	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	sendTimeout  = 30 * time.Second
	dedupeWindow = 10 * time.Second
	dedupeSize   = 10000
)

// FallbackRoomKey is the admin_rooms entry used for users without a room
// of their own, and for bridge bots.
const FallbackRoomKey id.UserID = "*"

// relayed lists the events forwarded to the FrameHandler.
var relayed = []irc.EventType{
	irc.EventMessage,
	irc.EventNotice,
	irc.EventAction,
	irc.EventTopic,
	irc.EventJoin,
	irc.EventPart,
	irc.EventKick,
	irc.EventQuit,
}

// Sender posts events to Matrix. *mautrix.Client implements it.
type Sender interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
}

// Frame is an inbound IRC event and the client that observed it first.
type Frame struct {
	Network string
	Client  *bridged.Client
	Event   irc.Event
}

func (f Frame) String() string {
	return fmt.Sprintf("%s %s %s %s", f.Network, f.Event.Type, f.Event.Nick, f.Event.Channel)
}

// FrameHandler receives deduplicated frames.
type FrameHandler func(Frame)

// Config configures a Broker.
type Config struct {
	Sender     Sender
	AdminRooms map[id.UserID]id.RoomID
	OnFrame    FrameHandler
	Logger     *slog.Logger
}

// Broker implements bridged.Broker.
type Broker struct {
	sender     Sender
	adminRooms map[id.UserID]id.RoomID
	onFrame    FrameHandler
	seen       *dedupe.Cache
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	hooks map[*bridged.Client][]irc.Subscription
}

// New creates a Broker. Close releases it.
func New(cfg Config) *Broker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		sender:     cfg.Sender,
		adminRooms: cfg.AdminRooms,
		onFrame:    cfg.OnFrame,
		seen:       dedupe.New(dedupeWindow, dedupeSize, time.Minute),
		logger:     logger.With("component", "broker"),
		ctx:        ctx,
		cancel:     cancel,
		hooks:      make(map[*bridged.Client][]irc.Subscription),
	}
}

// AdminRoom returns the room metadata for user is posted to.
func (b *Broker) AdminRoom(user id.UserID) (id.RoomID, bool) {
	if room, ok := b.adminRooms[user]; ok && user != "" {
		return room, true
	}
	room, ok := b.adminRooms[FallbackRoomKey]
	return room, ok
}

// SendMetadata posts text to the client owner's admin room. It returns
// immediately; the post happens in the background.
func (b *Broker) SendMetadata(c *bridged.Client, text string) {
	room, ok := b.AdminRoom(c.UserID())
	if !ok || b.sender == nil {
		b.logger.Debug("no admin room for metadata", "client", c.String(), "text", text)
		return
	}

	content := renderNotice(text)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(b.ctx, sendTimeout)
		defer cancel()
		if _, err := b.sender.SendMessageEvent(ctx, room, event.EventMessage, content); err != nil {
			b.logger.Error("failed to send metadata", "room", room.String(), "client", c.String(), "error", err)
		}
	}()
}

// AddHooks forwards conn's inbound frames to the FrameHandler.
func (b *Broker) AddHooks(c *bridged.Client, conn irc.Conn) {
	network := c.Server().Domain

	subs := make([]irc.Subscription, 0, len(relayed))
	for _, typ := range relayed {
		subs = append(subs, conn.Subscribe(typ, func(ev irc.Event) {
			b.relay(network, c, ev)
		}))
	}

	b.mu.Lock()
	old := b.hooks[c]
	b.hooks[c] = subs
	b.mu.Unlock()

	for _, sub := range old {
		sub.Unsubscribe()
	}
}

// RemoveHooks stops forwarding frames observed by c.
func (b *Broker) RemoveHooks(c *bridged.Client) {
	b.mu.Lock()
	subs := b.hooks[c]
	delete(b.hooks, c)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// Hooked returns the number of clients whose frames are forwarded.
func (b *Broker) Hooked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.hooks)
}

func (b *Broker) relay(network string, c *bridged.Client, ev irc.Event) {
	key := dedupe.FrameKey(network, string(ev.Type), ev.Nick, ev.NewNick, ev.Channel, ev.Target, ev.Text)
	if !b.seen.Claim(key, c.ID()) {
		return
	}
	if b.onFrame == nil {
		return
	}
	b.onFrame(Frame{Network: network, Client: c, Event: ev})
}

// Close waits for in-flight notices and stops the dedupe sweep.
func (b *Broker) Close() {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(sendTimeout):
		b.logger.Warn("gave up waiting for metadata sends")
		b.cancel()
	}
	b.cancel()
	b.seen.Close()
}

// renderNotice builds an m.notice with an HTML body rendered from text as markdown.
func renderNotice(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	}

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(text), &html); err != nil {
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = string(bytes.TrimSpace(html.Bytes()))
	return content
}

var _ bridged.Broker = (*Broker)(nil)
