// ABOUTME: Package pool owns the directory of bridged IRC clients.

// Package pool maps (network, Matrix user) pairs to bridged clients.
//
// Client creation is serialised per pool through a workqueue so concurrent
// requests for the same identity share one connection attempt. The pool
// runs one bridge bot per network, evicts the least recently active
// client when a network reaches its client cap, and replaces clients
// whose connection dropped without being asked to.
package pool
