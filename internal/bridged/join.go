// ABOUTME: Channel join and part protocol for a bridged client.
// ABOUTME: Joins retry on timeout and fail fast on error frames naming the channel.

package bridged

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389/coven-irc/internal/irc"
	"github.com/2389/coven-irc/internal/metrics"
)

const (
	maxJoinAttempts    = 5
	joinAttemptTimeout = 15 * time.Second
	leaveReason        = "User left"
)

type joinOutcome int

const (
	joinConfirmed joinOutcome = iota
	joinMember
	joinRetry
	joinRejected
	joinAbandoned
	joinFailed
)

type joinSignal struct {
	code     string
	timedOut bool
}

// JoinChannel joins channel and returns once the server confirms. Targets
// that are not channels resolve immediately.
func (c *Client) JoinChannel(ctx context.Context, channel string) (irc.Room, error) {
	room := irc.Room{Server: c.server, Channel: channel}
	if c.disabled {
		return room, nil
	}
	if err := c.joinChannel(ctx, channel); err != nil {
		return irc.Room{}, err
	}
	return room, nil
}

func (c *Client) joinChannel(ctx context.Context, channel string) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}
	domain := c.server.Domain

	if conn.InChannel(channel) {
		c.metrics.JoinFinished(domain, metrics.JoinMember)
		return nil
	}
	if !irc.IsChannel(channel) {
		return nil
	}
	if c.server.IsExcludedChannel(channel) {
		c.metrics.JoinFinished(domain, metrics.JoinExcluded)
		return &ExcludedChannelError{Channel: channel}
	}

	c.addChannel(channel)
	for attempt := 1; attempt <= maxJoinAttempts; attempt++ {
		c.logger.Debug("joining channel", "channel", channel, "attempt", attempt)
		c.metrics.JoinAttempted(domain)

		outcome, err := c.joinAttempt(ctx, conn, channel)
		switch outcome {
		case joinConfirmed:
			c.logger.Info("joined channel", "channel", channel)
			c.metrics.JoinFinished(domain, metrics.JoinJoined)
			return nil
		case joinMember:
			c.metrics.JoinFinished(domain, metrics.JoinMember)
			return nil
		case joinRejected:
			c.logger.Error("failed to join channel", "channel", channel, "error", err)
			c.removeChannel(channel)
			c.metrics.JoinFinished(domain, metrics.JoinRejected)
			return err
		case joinAbandoned:
			c.logger.Info("channel no longer wanted, abandoning join", "channel", channel)
			c.metrics.JoinFinished(domain, metrics.JoinAbandoned)
			return err
		case joinFailed:
			c.logger.Warn("join interrupted", "channel", channel, "error", err)
			c.removeChannel(channel)
			return err
		case joinRetry:
			c.logger.Warn("timed out joining channel", "channel", channel, "attempt", attempt)
		}
	}

	c.removeChannel(channel)
	c.metrics.JoinFinished(domain, metrics.JoinTimeout)
	return &JoinTimeoutError{Channel: channel, Attempts: maxJoinAttempts}
}

func (c *Client) joinAttempt(ctx context.Context, conn irc.Conn, channel string) (joinOutcome, error) {
	signals := make(chan joinSignal, 1)
	deliver := func(s joinSignal) {
		select {
		case signals <- s:
		default:
		}
	}

	joinSub := conn.Subscribe(irc.EventJoin, func(ev irc.Event) {
		if strings.EqualFold(ev.Channel, channel) && strings.EqualFold(ev.Nick, conn.Nick()) {
			deliver(joinSignal{})
		}
	})
	defer joinSub.Unsubscribe()

	errSub := conn.Subscribe(irc.EventError, func(ev irc.Event) {
		if irc.IsJoinFailure(ev.Command) && ev.HasArg(channel) {
			deliver(joinSignal{code: ev.Command})
		}
	})
	defer errSub.Unsubscribe()

	timer := c.clock.AfterFunc(joinAttemptTimeout, func() {
		deliver(joinSignal{timedOut: true})
	})
	defer timer.Stop()

	if err := c.write(func() error { return conn.Join(channel) }); err != nil {
		return joinFailed, fmt.Errorf("sending JOIN %s: %w", channel, err)
	}

	var sig joinSignal
	select {
	case sig = <-signals:
	case <-ctx.Done():
		return joinFailed, ctx.Err()
	}

	switch {
	case sig.code != "":
		return joinRejected, &JoinRejectedError{Channel: channel, Code: sig.code}
	case !sig.timedOut:
		return joinConfirmed, nil
	case !c.wantsChannel(channel):
		return joinAbandoned, ErrJoinAbandoned
	case conn.InChannel(channel):
		// A part and rejoin inside one attempt window also lands here.
		return joinMember, nil
	default:
		return joinRetry, nil
	}
}

// LeaveChannel parts channel and waits for the server to confirm.
func (c *Client) LeaveChannel(ctx context.Context, channel string) error {
	if c.disabled {
		return nil
	}
	conn := c.connection()
	if conn == nil || conn.Dead() {
		return nil
	}
	if !irc.IsChannel(channel) {
		return nil
	}
	c.removeChannel(channel)
	if !conn.InChannel(channel) {
		return nil
	}

	parted := make(chan struct{}, 1)
	sub := conn.Subscribe(irc.EventPart, func(ev irc.Event) {
		if !strings.EqualFold(ev.Channel, channel) || !strings.EqualFold(ev.Nick, conn.Nick()) {
			return
		}
		select {
		case parted <- struct{}{}:
		default:
		}
	})
	defer sub.Unsubscribe()

	if err := c.write(func() error { return conn.Part(channel, leaveReason) }); err != nil {
		return fmt.Errorf("sending PART %s: %w", channel, err)
	}

	select {
	case <-parted:
		c.logger.Info("left channel", "channel", channel)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) addChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.channels {
		if strings.EqualFold(ch, channel) {
			return
		}
	}
	c.channels = append(c.channels, channel)
}

func (c *Client) removeChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, ch := range c.channels {
		if strings.EqualFold(ch, channel) {
			c.channels = append(c.channels[:i], c.channels[i+1:]...)
			return
		}
	}
}

func (c *Client) wantsChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.channels {
		if strings.EqualFold(ch, channel) {
			return true
		}
	}
	return false
}
