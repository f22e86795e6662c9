// ABOUTME: irc.Conn implementation over a gopkg.in/irc.v4 client.
// ABOUTME: Tracks nick, membership and ISUPPORT, and turns wire messages into events.

package ircconn

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/2389/coven-irc/internal/irc"
	ircproto "gopkg.in/irc.v4"
)

// ErrClosed is returned by writes on a closed connection.
var ErrClosed = errors.New("connection closed")

const ctcpAction = "\x01ACTION "

type whoisRequest struct {
	info irc.WhoisInfo
	done chan struct{}
}

// Conn is a live IRC connection.
type Conn struct {
	irc.Emitter

	domain  string
	logger  *slog.Logger
	netConn net.Conn
	client  *ircproto.Client
	cancel  context.CancelFunc

	writeMu sync.Mutex

	registered chan struct{}
	done       chan struct{}

	mu            sync.Mutex
	nick          string
	members       map[string]string
	isupport      map[string]string
	whois         map[string]*whoisRequest
	isRegistered  bool
	dead          bool
	quitting      bool
	runErr        error
	onDisconnect  func()
	onConnect     []func(int)
	localPort     int
	portAnnounced bool
}

func newConn(domain, nick string, logger *slog.Logger) *Conn {
	return &Conn{
		domain:     domain,
		logger:     logger,
		nick:       nick,
		cancel:     func() {},
		registered: make(chan struct{}),
		done:       make(chan struct{}),
		members:    make(map[string]string),
		isupport:   make(map[string]string),
		whois:      make(map[string]*whoisRequest),
	}
}

// Nick returns the nick the server knows us by.
func (c *Conn) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// InChannel reports whether we are joined to channel.
func (c *Conn) InChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[strings.ToLower(channel)]
	return ok
}

// Channels lists joined channels.
func (c *Conn) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.members))
	for _, ch := range c.members {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// ISupport returns an RPL_ISUPPORT token value.
func (c *Conn) ISupport(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.isupport[strings.ToUpper(key)]
	return v, ok
}

func (c *Conn) Join(channel string) error {
	return c.write("JOIN", channel)
}

func (c *Conn) Part(channel, reason string) error {
	return c.write("PART", channel, reason)
}

// Say sends text as PRIVMSG, one message per line.
func (c *Conn) Say(target, text string) error {
	return c.eachLine(text, func(line string) error {
		return c.write("PRIVMSG", target, line)
	})
}

// Notice sends text as NOTICE, one message per line.
func (c *Conn) Notice(target, text string) error {
	return c.eachLine(text, func(line string) error {
		return c.write("NOTICE", target, line)
	})
}

// Action sends text as a CTCP ACTION.
func (c *Conn) Action(target, text string) error {
	return c.eachLine(text, func(line string) error {
		return c.write("PRIVMSG", target, ctcpAction+line+"\x01")
	})
}

func (c *Conn) Send(command string, args ...string) error {
	return c.write(command, args...)
}

// Whois asks the server about nick. A nick the server does not know
// yields a WhoisInfo with an empty User.
func (c *Conn) Whois(ctx context.Context, nick string) (*irc.WhoisInfo, error) {
	key := strings.ToLower(nick)

	c.mu.Lock()
	req, pending := c.whois[key]
	if !pending {
		req = &whoisRequest{done: make(chan struct{})}
		c.whois[key] = req
	}
	c.mu.Unlock()

	if !pending {
		if err := c.write("WHOIS", nick); err != nil {
			c.mu.Lock()
			delete(c.whois, key)
			c.mu.Unlock()
			return nil, err
		}
	}

	select {
	case <-req.done:
		c.mu.Lock()
		info := req.info
		c.mu.Unlock()
		return &info, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Dead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}

// Disconnect sends QUIT and waits for the server to close the connection.
// If ctx ends first the socket is closed.
func (c *Conn) Disconnect(ctx context.Context, reason string) error {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return nil
	}
	c.quitting = true
	c.mu.Unlock()

	if err := c.write("QUIT", reason); err != nil {
		c.logger.Debug("failed to send QUIT", "error", err)
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.abort()
		<-c.done
		return ctx.Err()
	}
}

func (c *Conn) SetOnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// OnConnect registers fn to receive the local port of the socket. If the
// socket is already up fn runs immediately.
func (c *Conn) OnConnect(fn func(localPort int)) {
	c.mu.Lock()
	if !c.portAnnounced {
		c.onConnect = append(c.onConnect, fn)
		c.mu.Unlock()
		return
	}
	port := c.localPort
	c.mu.Unlock()
	fn(port)
}

func (c *Conn) announcePort(port int) {
	c.mu.Lock()
	c.localPort = port
	c.portAnnounced = true
	hooks := c.onConnect
	c.onConnect = nil
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(port)
	}
}

func (c *Conn) write(command string, params ...string) error {
	if c.Dead() || c.client == nil {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.client.WriteMessage(&ircproto.Message{
		Command: command,
		Params:  params,
	})
}

func (c *Conn) eachLine(text string, send func(string) error) error {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if err := send(line); err != nil {
			return err
		}
	}
	return nil
}

// run drives the client until the connection ends.
func (c *Conn) run(ctx context.Context) {
	err := c.client.RunContext(ctx)
	_ = c.netConn.Close()

	c.mu.Lock()
	c.dead = true
	c.runErr = err
	expected := c.quitting
	registered := c.isRegistered
	hook := c.onDisconnect
	c.mu.Unlock()
	close(c.done)

	if expected {
		c.logger.Debug("connection closed after QUIT")
		return
	}
	c.logger.Warn("connection ended", "error", err)
	if registered && hook != nil {
		hook()
	}
}

func (c *Conn) abort() {
	c.cancel()
	if c.netConn != nil {
		_ = c.netConn.Close()
	}
}

func (c *Conn) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runErr != nil {
		return c.runErr
	}
	return ErrClosed
}

func (c *Conn) handle(_ *ircproto.Client, m *ircproto.Message) {
	c.dispatch(m)
}

// dispatch applies m to the connection state and emits the resulting events.
func (c *Conn) dispatch(m *ircproto.Message) {
	for _, ev := range c.translate(m) {
		c.Emit(ev)
	}
}

func (c *Conn) translate(m *ircproto.Message) []irc.Event {
	source := ""
	if m.Prefix != nil {
		source = m.Prefix.Name
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch m.Command {
	case rplWelcome:
		if nick := param(m, 0); nick != "" {
			c.nick = nick
		}
		if !c.isRegistered {
			c.isRegistered = true
			close(c.registered)
		}
		return []irc.Event{{Type: irc.EventRegistered, Nick: c.nick}}

	case rplISupport:
		c.parseISupportLocked(m.Params)
		return nil

	case "NICK":
		newNick := param(m, 0)
		if strings.EqualFold(source, c.nick) {
			c.nick = newNick
		}
		return []irc.Event{{Type: irc.EventNick, Nick: source, NewNick: newNick}}

	case "JOIN":
		channel := param(m, 0)
		if strings.EqualFold(source, c.nick) {
			c.members[strings.ToLower(channel)] = channel
		}
		return []irc.Event{{Type: irc.EventJoin, Nick: source, Channel: channel}}

	case "PART":
		channel := param(m, 0)
		if strings.EqualFold(source, c.nick) {
			delete(c.members, strings.ToLower(channel))
		}
		return []irc.Event{{Type: irc.EventPart, Nick: source, Channel: channel, Text: param(m, 1)}}

	case "KICK":
		channel, target := param(m, 0), param(m, 1)
		if strings.EqualFold(target, c.nick) {
			delete(c.members, strings.ToLower(channel))
		}
		return []irc.Event{{Type: irc.EventKick, Nick: source, Channel: channel, Target: target, Text: param(m, 2)}}

	case "QUIT":
		return []irc.Event{{Type: irc.EventQuit, Nick: source, Text: param(m, 0)}}

	case "PRIVMSG":
		target, text := param(m, 0), param(m, 1)
		if strings.HasPrefix(text, ctcpAction) {
			text = strings.TrimSuffix(strings.TrimPrefix(text, ctcpAction), "\x01")
			return []irc.Event{{Type: irc.EventAction, Nick: source, Channel: target, Text: text}}
		}
		if strings.HasPrefix(text, "\x01") {
			return nil
		}
		return []irc.Event{{Type: irc.EventMessage, Nick: source, Channel: target, Text: text}}

	case "NOTICE":
		return []irc.Event{{Type: irc.EventNotice, Nick: source, Channel: param(m, 0), Text: param(m, 1)}}

	case "TOPIC":
		return []irc.Event{{Type: irc.EventTopic, Nick: source, Channel: param(m, 0), Text: param(m, 1)}}

	case rplTopic:
		return []irc.Event{{Type: irc.EventTopic, Channel: param(m, 1), Text: param(m, 2)}}

	case rplWhoisUser:
		if req, ok := c.whois[strings.ToLower(param(m, 1))]; ok {
			req.info = irc.WhoisInfo{
				Nick:     param(m, 1),
				User:     param(m, 2),
				Host:     param(m, 3),
				RealName: param(m, 5),
			}
		}
		return nil

	case rplEndOfWhois:
		c.finishWhoisLocked(param(m, 1))
		return nil

	case "ERROR":
		return []irc.Event{{Type: irc.EventError, Command: "error", Args: copyParams(m.Params)}}
	}

	name := errorName(m.Command)
	if name == "" {
		return nil
	}
	if m.Command == errNoSuchNick || m.Command == errNoSuchServer {
		c.finishWhoisLocked(param(m, 1))
	}
	return []irc.Event{{Type: irc.EventError, Command: name, Args: copyParams(m.Params)}}
}

// parseISupportLocked reads "KEY=VALUE", "KEY" and "-KEY" tokens between
// our nick and the trailing text.
func (c *Conn) parseISupportLocked(params []string) {
	if len(params) < 3 {
		return
	}
	for _, token := range params[1 : len(params)-1] {
		if strings.HasPrefix(token, "-") {
			delete(c.isupport, strings.ToUpper(token[1:]))
			continue
		}
		key, value, _ := strings.Cut(token, "=")
		c.isupport[strings.ToUpper(key)] = value
	}
}

func (c *Conn) finishWhoisLocked(nick string) {
	key := strings.ToLower(nick)
	req, ok := c.whois[key]
	if !ok {
		return
	}
	delete(c.whois, key)
	close(req.done)
}

func param(m *ircproto.Message, i int) string {
	if i < len(m.Params) {
		return m.Params[i]
	}
	return ""
}

func copyParams(params []string) []string {
	return append([]string(nil), params...)
}
