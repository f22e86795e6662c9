// ABOUTME: Error taxonomy for bridged client operations.
// ABOUTME: Messages are written for relaying straight back to the Matrix user.

package bridged

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs a connection that
	// was never established.
	ErrNotConnected = errors.New("no client")

	// ErrCreationFailed is returned by Connect after an earlier attempt
	// failed. A new Client must be created to try again.
	ErrCreationFailed = errors.New("connection creation previously failed")

	// ErrJoinAbandoned is returned when a channel stopped being wanted while
	// its join was still unconfirmed.
	ErrJoinAbandoned = errors.New("join abandoned")
)

// ValidationError rejects a nick before anything is sent to the network.
type ValidationError struct {
	Nick    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConnectionCreationError is returned when Connect fails. The client is
// dead afterwards.
type ConnectionCreationError struct {
	Server string
	Err    error
}

func (e *ConnectionCreationError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Server, e.Err)
}

func (e *ConnectionCreationError) Unwrap() error {
	return e.Err
}

// ExcludedChannelError rejects joins to channels configured as do-not-track.
type ExcludedChannelError struct {
	Channel string
}

func (e *ExcludedChannelError) Error() string {
	return e.Channel + " is a do-not-track channel."
}

// JoinRejectedError carries the error frame the server refused a JOIN with.
type JoinRejectedError struct {
	Channel string
	Code    string
}

func (e *JoinRejectedError) Error() string {
	return e.Code
}

// JoinTimeoutError is returned once every join attempt has timed out.
type JoinTimeoutError struct {
	Channel  string
	Attempts int
}

func (e *JoinTimeoutError) Error() string {
	return fmt.Sprintf("Failed to join %s after multiple tries", e.Channel)
}

// UnknownActionError rejects an action type with no IRC mapping.
type UnknownActionError struct {
	Type string
}

func (e *UnknownActionError) Error() string {
	return "Unknown action type: " + e.Type
}

// WhoisNotFoundError is returned when WHOIS has no user record for a nick.
type WhoisNotFoundError struct {
	Nick string
}

func (e *WhoisNotFoundError) Error() string {
	return "Cannot find nick on whois."
}
