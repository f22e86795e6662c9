// ABOUTME: Package broker connects bridged clients to Matrix.
// ABOUTME: It posts metadata notices and relays inbound IRC frames once per network.

// Package broker implements bridged.Broker.
//
// Metadata (connection notices, error frames) is posted as m.notice events
// to the owning user's admin room, with an HTML body rendered from
// markdown. Inbound frames are collected from every client's connection
// and handed to a FrameHandler once per network, no matter how many
// bridged clients observed them. The first client to see a line within
// the dedupe window owns it; a repeat of that line from the owner is a
// new frame and is relayed again.
package broker
