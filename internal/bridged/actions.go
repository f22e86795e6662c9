// ABOUTME: Outbound actions (messages, notices, emotes, topics) and WHOIS lookups.

package bridged

import (
	"context"
	"fmt"

	"github.com/2389/coven-irc/internal/irc"
)

// ActionType selects the IRC primitive an Action is sent with.
type ActionType string

const (
	ActionMessage ActionType = "message"
	ActionNotice  ActionType = "notice"
	ActionEmote   ActionType = "emote"
	ActionTopic   ActionType = "topic"
)

// Action is something a Matrix user did that is mirrored to IRC.
type Action struct {
	Type ActionType
	Text string
}

// WhoisResult identifies the network and nick a WHOIS resolved to.
type WhoisResult struct {
	Server *irc.Server
	Nick   string
}

// SendAction sends action to room. Messages wait for the first successful
// connect and join the channel before sending.
func (c *Client) SendAction(ctx context.Context, room irc.Room, action Action) error {
	if c.disabled {
		return nil
	}
	c.keepAlive()

	switch action.Type {
	case ActionMessage:
		return c.sendMessage(ctx, room, func(conn irc.Conn) error {
			return conn.Say(room.Channel, action.Text)
		})
	case ActionNotice:
		return c.sendMessage(ctx, room, func(conn irc.Conn) error {
			return conn.Notice(room.Channel, action.Text)
		})
	case ActionEmote:
		return c.sendMessage(ctx, room, func(conn irc.Conn) error {
			return conn.Action(room.Channel, action.Text)
		})
	case ActionTopic:
		return c.setTopic(ctx, room, action.Text)
	default:
		c.logger.Error("unknown action type", "type", string(action.Type))
		return &UnknownActionError{Type: string(action.Type)}
	}
}

func (c *Client) sendMessage(ctx context.Context, room irc.Room, send func(irc.Conn) error) error {
	if err := c.ready.Wait(ctx); err != nil {
		return err
	}
	if err := c.joinChannel(ctx, room.Channel); err != nil {
		c.logger.Error("failed to join channel before sending", "channel", room.Channel, "error", err)
		return err
	}
	conn := c.connection()
	if err := c.write(func() error { return send(conn) }); err != nil {
		return fmt.Errorf("sending to %s: %w", room.Channel, err)
	}
	return nil
}

func (c *Client) setTopic(ctx context.Context, room irc.Room, topic string) error {
	if err := c.joinChannel(ctx, room.Channel); err != nil {
		c.logger.Error("failed to join channel before setting topic", "channel", room.Channel, "error", err)
		return err
	}
	conn := c.connection()
	if err := c.write(func() error { return conn.Send("TOPIC", room.Channel, topic) }); err != nil {
		return fmt.Errorf("setting topic on %s: %w", room.Channel, err)
	}
	return nil
}

// Whois looks nick up on the network.
func (c *Client) Whois(ctx context.Context, nick string) (WhoisResult, error) {
	if c.disabled {
		return WhoisResult{Server: c.server, Nick: nick}, nil
	}
	conn := c.connection()
	if conn == nil {
		return WhoisResult{}, ErrNotConnected
	}

	info, err := conn.Whois(ctx, nick)
	if err != nil {
		return WhoisResult{}, fmt.Errorf("whois %s: %w", nick, err)
	}
	if info == nil || info.User == "" {
		return WhoisResult{}, &WhoisNotFoundError{Nick: nick}
	}
	found := info.Nick
	if found == "" {
		found = nick
	}
	return WhoisResult{Server: c.server, Nick: found}, nil
}
