// ABOUTME: Package bridged supervises one virtual IRC connection per bridged identity.
// ABOUTME: See Client for the lifecycle and the join protocol.

// Package bridged implements the per-identity connection supervisor.
//
// A Client is created unconnected. Connect resolves the identity's names,
// optionally allocates a local IPv6 address, and asks an irc.Factory for a
// connection. Once connected, operations that send to a channel join it
// first. Joins retry up to five times, fifteen seconds apart, and fail
// immediately on an error frame that names the channel.
//
// A client that failed to connect, was disconnected, or idled out is dead
// for good. The pool replaces it with a new Client.
//
// Clients owned by a disabled bot accept every operation and do nothing.
package bridged
