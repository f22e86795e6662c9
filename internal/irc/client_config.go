// ABOUTME: Per-identity IRC connection settings owned by one bridged client.
// ABOUTME: The address allocator writes the IPv6 address here before connecting.

package irc

import (
	"sync"

	"maunium.net/go/mautrix/id"
)

// ClientConfig holds the settings used to open one virtual connection.
// It is safe for concurrent use.
type ClientConfig struct {
	mu sync.RWMutex

	userID      id.UserID
	domain      string
	desiredNick string
	username    string
	password    string
	ipv6Address string
}

// NewClientConfig creates a config for userID on domain. userID is empty
// for the bridge bot.
func NewClientConfig(userID id.UserID, domain, desiredNick string) *ClientConfig {
	return &ClientConfig{
		userID:      userID,
		domain:      domain,
		desiredNick: desiredNick,
	}
}

// UserID returns the owning Matrix user, empty for the bot.
func (c *ClientConfig) UserID() id.UserID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Domain returns the IRC network this config belongs to.
func (c *ClientConfig) Domain() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.domain
}

// DesiredNick returns the nick the identity asks for.
func (c *ClientConfig) DesiredNick() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.desiredNick
}

// SetDesiredNick records a new preferred nick.
func (c *ClientConfig) SetDesiredNick(nick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.desiredNick = nick
}

// Username returns the stored username, if any.
func (c *ClientConfig) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// SetUsername stores the username chosen for this identity.
func (c *ClientConfig) SetUsername(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
}

// Password returns the identity's own IRC password, if any.
func (c *ClientConfig) Password() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.password
}

// SetPassword stores a per-identity password.
func (c *ClientConfig) SetPassword(password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.password = password
}

// IPv6Address returns the allocated local address, if any.
func (c *ClientConfig) IPv6Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ipv6Address
}

// SetIPv6Address stores an allocated local address.
func (c *ClientConfig) SetIPv6Address(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ipv6Address = addr
}
