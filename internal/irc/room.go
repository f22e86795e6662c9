// ABOUTME: Room value returned by joins: an IRC channel on a given network.

package irc

// Room is a channel on a network.
type Room struct {
	Server  *Server
	Channel string
}

func (r Room) String() string {
	if r.Server == nil {
		return r.Channel
	}
	return r.Server.Domain + "/" + r.Channel
}
