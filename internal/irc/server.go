// ABOUTME: IRC network descriptor used by every bridged client on that network.
// ABOUTME: Holds address, credentials, idle window, channel exclusions and bot policy.

package irc

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxNickLength is the RFC 1459 nick length used when the server
// does not advertise NICKLEN.
const DefaultMaxNickLength = 9

// Server describes one IRC network.
type Server struct {
	Domain   string
	Port     int
	TLS      bool
	Password string

	// IdleTimeout disconnects a client after this long without activity.
	// Zero disables idle disconnects.
	IdleTimeout time.Duration

	// IPv6Prefix, when set, gives each client its own address under the prefix.
	IPv6Prefix string

	ExcludedChannels []string

	BotEnabled bool
	BotNick    string

	// MirrorMembership keeps clients connected so Matrix membership stays
	// mirrored on IRC; it exempts clients from idle disconnects.
	MirrorMembership bool

	NickTemplate     string
	UsernameTemplate string
	MaxClients       int
}

// IsExcludedChannel reports whether channel must never be tracked.
func (s *Server) IsExcludedChannel(channel string) bool {
	for _, excluded := range s.ExcludedChannels {
		if strings.EqualFold(excluded, channel) {
			return true
		}
	}
	return false
}

// IsBotEnabled reports whether the bridge bot connects to this network.
func (s *Server) IsBotEnabled() bool {
	return s.BotEnabled
}

// Address returns host:port.
func (s *Server) Address() string {
	port := s.Port
	if port == 0 {
		if s.TLS {
			port = 6697
		} else {
			port = 6667
		}
	}
	return net.JoinHostPort(s.Domain, strconv.Itoa(port))
}

// IsChannel reports whether target names a channel rather than a user.
func IsChannel(target string) bool {
	return strings.HasPrefix(target, "#")
}
