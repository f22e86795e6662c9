// Package dedupe collapses duplicate protocol frames within a time window.
//
// Every bridged client in a channel receives the same PRIVMSG; the broker
// keys each frame with FrameKey and relays it only when Seen returns false.
package dedupe
