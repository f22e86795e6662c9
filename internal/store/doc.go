// Package store persists the IPv6 allocation ledger using SQLite.
//
// # Data Model
//
//   - ipv6_counters: one monotonically increasing counter per prefix
//   - ipv6_assignments: the address handed to each owner under a prefix
//
// Owners are Matrix user IDs, or "bot:<network>" for a network's bridge bot.
// An owner keeps its address across restarts, so the IRC network sees the
// same host for the same Matrix user.
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (no cgo) with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore with a path under
// t.TempDir() for integration tests.
package store
