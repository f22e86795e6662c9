// ABOUTME: Transport contracts for a live IRC connection and its factory.
// ABOUTME: Defines protocol event types, error-frame codes and connect options.

package irc

import (
	"context"
)

// EventType identifies a protocol event delivered by a Conn.
type EventType string

const (
	EventRegistered EventType = "registered"
	EventNick       EventType = "nick"
	EventError      EventType = "error"
	EventJoin       EventType = "join"
	EventPart       EventType = "part"
	EventKick       EventType = "kick"
	EventQuit       EventType = "quit"
	EventMessage    EventType = "message"
	EventNotice     EventType = "notice"
	EventAction     EventType = "action"
	EventTopic      EventType = "topic"
)

// Error frame commands that refuse a JOIN.
const (
	ErrNoSuchChannel   = "err_nosuchchannel"
	ErrTooManyChannels = "err_toomanychannels"
	ErrChannelIsFull   = "err_channelisfull"
	ErrInviteOnlyChan  = "err_inviteonlychan"
	ErrBannedFromChan  = "err_bannedfromchan"
	ErrBadChannelKey   = "err_badchannelkey"
	ErrNeedReggedNick  = "err_needreggednick"
)

// JoinFailureCodes lists the error frames that mean a JOIN was refused.
var JoinFailureCodes = []string{
	ErrNoSuchChannel,
	ErrTooManyChannels,
	ErrChannelIsFull,
	ErrInviteOnlyChan,
	ErrBannedFromChan,
	ErrBadChannelKey,
	ErrNeedReggedNick,
}

// IsJoinFailure reports whether command is one of JoinFailureCodes.
func IsJoinFailure(command string) bool {
	for _, code := range JoinFailureCodes {
		if code == command {
			return true
		}
	}
	return false
}

// Event is a protocol event. Fields are populated per type:
//
//   - Registered: Nick (the confirmed nick)
//   - Nick: Nick (old), NewNick
//   - Join, Part, Kick: Nick (who), Channel; Kick also Target, Text
//   - Message, Notice, Action: Nick (sender), Channel (target), Text
//   - Topic: Nick (setter, may be empty), Channel, Text
//   - Quit: Nick, Text
//   - Error: Command (e.g. err_bannedfromchan), Args
type Event struct {
	Type    EventType
	Nick    string
	NewNick string
	Channel string
	Target  string
	Text    string
	Command string
	Args    []string
}

// HasArg reports whether arg appears in the event's Args.
func (e Event) HasArg(arg string) bool {
	for _, a := range e.Args {
		if a == arg {
			return true
		}
	}
	return false
}

// Handler receives events. Handlers must not block.
type Handler func(Event)

// Subscription is one registered handler.
type Subscription interface {
	// Unsubscribe removes the handler. Safe to call more than once.
	Unsubscribe()
}

// WhoisInfo is the user record of a WHOIS reply. User is empty when the
// server has no such nick.
type WhoisInfo struct {
	Nick     string
	User     string
	Host     string
	RealName string
}

// Conn is a live connection to an IRC network.
type Conn interface {
	// Nick returns the nick the server currently knows us by.
	Nick() string
	// InChannel consults the live membership table.
	InChannel(channel string) bool
	// Channels lists the live membership table.
	Channels() []string
	// ISupport returns an RPL_ISUPPORT token, e.g. "NICKLEN".
	ISupport(key string) (string, bool)

	Join(channel string) error
	Part(channel, reason string) error
	Say(target, text string) error
	Notice(target, text string) error
	Action(target, text string) error
	Send(command string, args ...string) error
	Whois(ctx context.Context, nick string) (*WhoisInfo, error)

	// Dead reports that the connection has terminated.
	Dead() bool
	// Disconnect quits with reason and returns once the connection is closed.
	Disconnect(ctx context.Context, reason string) error
	// SetOnDisconnect sets the hook run when the connection drops unexpectedly.
	SetOnDisconnect(fn func())
	// OnConnect registers fn to run once the TCP connection is up, with the
	// local port of the socket.
	OnConnect(fn func(localPort int))

	Subscribe(eventType EventType, handler Handler) Subscription
}

// ConnectOptions are the identity fields used to open a connection.
type ConnectOptions struct {
	Nick         string
	Username     string
	Realname     string
	Password     string
	LocalAddress string
}

// Names are the identity strings presented at registration.
type Names struct {
	Nick     string
	Username string
	Realname string
}

// Factory creates connections. onCreated runs once the connection object
// exists, before registration completes.
type Factory interface {
	Create(ctx context.Context, server *Server, opts ConnectOptions, onCreated func(Conn)) (Conn, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, server *Server, opts ConnectOptions, onCreated func(Conn)) (Conn, error)

// Create calls f.
func (f FactoryFunc) Create(ctx context.Context, server *Server, opts ConnectOptions, onCreated func(Conn)) (Conn, error) {
	return f(ctx, server, opts, onCreated)
}
