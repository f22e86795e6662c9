// ABOUTME: Store interface and data types for coven-irc persistence
// ABOUTME: Defines the IPv6 allocation ledger used by the address allocator

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateAssignment is returned when an address is already assigned to another owner
var ErrDuplicateAssignment = errors.New("address already assigned")

// Assignment records the IPv6 address handed to one owner under a prefix
type Assignment struct {
	Prefix    string
	Owner     string // Matrix user ID, or "bot:<network>" for the bridge bot
	Address   string
	Counter   uint64 // counter value the address was derived from
	CreatedAt time.Time
}

// Store persists IPv6 allocation state.
type Store interface {
	// NextCounter atomically increments and returns the counter for prefix.
	// The first call for a prefix returns 1.
	NextCounter(ctx context.Context, prefix string) (uint64, error)

	// GetAssignment returns the address assigned to owner under prefix.
	// Returns ErrNotFound if there is none.
	GetAssignment(ctx context.Context, prefix, owner string) (*Assignment, error)

	// SaveAssignment records a new assignment.
	// Returns ErrDuplicateAssignment if the address or owner is already taken.
	SaveAssignment(ctx context.Context, a *Assignment) error

	// ListAssignments returns every assignment under prefix, oldest first.
	ListAssignments(ctx context.Context, prefix string) ([]*Assignment, error)

	// DeleteAssignment releases owner's address under prefix.
	// Returns ErrNotFound if there is none.
	DeleteAssignment(ctx context.Context, prefix, owner string) error

	Close() error
}
