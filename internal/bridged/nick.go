// ABOUTME: Nick validation and NICK negotiation for a bridged client.

package bridged

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/2389/coven-irc/internal/irc"
)

var (
	illegalNickChars = regexp.MustCompile("[^A-Za-z0-9\\]\\[\\^\\\\{}\\-`_]")
	nickStart        = regexp.MustCompile(`^[A-Za-z]`)
)

// SanitizeNick drops the characters IRC does not allow in a nick.
func SanitizeNick(nick string) string {
	return illegalNickChars.ReplaceAllString(nick, "")
}

// ValidateNick checks nick against the characters IRC allows and the
// network's advertised length limit. maxLen <= 0 means the protocol default.
func ValidateNick(nick string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = irc.DefaultMaxNickLength
	}

	sanitized := SanitizeNick(nick)
	if sanitized != nick {
		return &ValidationError{
			Nick:    nick,
			Message: fmt.Sprintf("Nick '%s' contains illegal characters. Try '%s'.", nick, sanitized),
		}
	}
	if !nickStart.MatchString(nick) {
		return &ValidationError{
			Nick:    nick,
			Message: fmt.Sprintf("Nick '%s' must start with a letter.", nick),
		}
	}
	if len(nick) > maxLen {
		return &ValidationError{
			Nick:    nick,
			Message: fmt.Sprintf("Nick '%s' is too long. (Max: %d)", nick, maxLen),
		}
	}
	return nil
}

// ChangeNick asks the network for a new nick and returns a message
// describing the outcome. It waits for the server to confirm; ctx bounds
// the wait.
func (c *Client) ChangeNick(ctx context.Context, newNick string) (string, error) {
	conn := c.connection()

	if err := ValidateNick(newNick, maxNickLength(conn)); err != nil {
		return "", err
	}

	current := c.Nick()
	if newNick == current {
		return fmt.Sprintf("Your nick is already '%s'.", newNick), nil
	}
	if conn == nil {
		return "", ErrNotConnected
	}

	changed := make(chan irc.Event, 1)
	sub := conn.Subscribe(irc.EventNick, func(ev irc.Event) {
		if ev.Nick != current && ev.NewNick != newNick {
			return
		}
		select {
		case changed <- ev:
		default:
		}
	})
	defer sub.Unsubscribe()

	c.logger.Info("changing nick", "new_nick", newNick)
	if err := c.write(func() error { return conn.Send("NICK", newNick) }); err != nil {
		return "", fmt.Errorf("sending NICK: %w", err)
	}

	select {
	case ev := <-changed:
		return fmt.Sprintf("Nick changed from '%s' to '%s'.", ev.Nick, ev.NewNick), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func maxNickLength(conn irc.Conn) int {
	if conn == nil {
		return irc.DefaultMaxNickLength
	}
	v, ok := conn.ISupport("NICKLEN")
	if !ok {
		return irc.DefaultMaxNickLength
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return irc.DefaultMaxNickLength
	}
	return n
}
