// Package ipv6 hands each bridged identity its own IPv6 address inside a
// network's configured prefix.
//
// Addresses are the prefix plus a per-prefix counter kept in the store, so
// they are never reused and an owner keeps the same address across
// restarts. Allocations run one at a time through a workqueue; concurrent
// requests for the same owner share one allocation.
package ipv6
