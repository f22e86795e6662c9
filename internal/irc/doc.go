// Package irc defines the IRC-side value types and transport contracts
// shared by the bridge core and its collaborators.
//
// # Types
//
//   - Server: a configured IRC network (address, credentials, idle window,
//     excluded channels, bot and membership policy)
//   - ClientConfig: the per-identity connection settings (desired nick,
//     username, password, allocated IPv6 address)
//   - Room: the value returned by joins, {server, channel}
//
// # Transport
//
// Conn is a live IRC connection. Its command primitives (Join, Part, Say,
// Notice, Action, Send, Whois) write to the network; protocol events are
// delivered through Subscribe, which returns a Subscription that removes
// exactly that handler when cancelled. Factory creates connections.
//
// Emitter is the subscription registry used by Conn implementations.
package irc
