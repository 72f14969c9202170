package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an error raised at the engine's boundaries.
//
// The replicated core never fails; everything that can go wrong lives at
// the edges:
//   - Closed: the engine stopped before a command could run
//   - Transport: subscribing or publishing failed
//   - Journal: reading or appending the op journal failed
//   - Nondeterministic: replaying the journal in two orders disagreed
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Peer is the peer the error was raised on, if known.
	Peer string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeClosed indicates the engine is no longer running.
	ErrCodeClosed RuntimeErrorCode = "CLOSED"

	// ErrCodeTransport indicates a transport failure.
	ErrCodeTransport RuntimeErrorCode = "TRANSPORT"

	// ErrCodeJournal indicates a journal read or write failure.
	ErrCodeJournal RuntimeErrorCode = "JOURNAL"

	// ErrCodeNondeterministic indicates forward and reverse replays diverged.
	ErrCodeNondeterministic RuntimeErrorCode = "NONDETERMINISTIC"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Peer != "" {
		msg += fmt.Sprintf(" (peer=%s)", e.Peer)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func isCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsClosedError returns true if the error reports a stopped engine.
// Uses errors.As to handle wrapped errors.
func IsClosedError(err error) bool {
	return isCode(err, ErrCodeClosed)
}

// IsTransportError returns true if the error is a transport failure.
func IsTransportError(err error) bool {
	return isCode(err, ErrCodeTransport)
}

// IsJournalError returns true if the error is a journal failure.
func IsJournalError(err error) bool {
	return isCode(err, ErrCodeJournal)
}

// IsNondeterministicError returns true if replay verification failed.
func IsNondeterministicError(err error) bool {
	return isCode(err, ErrCodeNondeterministic)
}

// NewClosedError creates a RuntimeError for a command sent to a stopped engine.
func NewClosedError(peer string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeClosed,
		Message: "engine is not running",
		Peer:    peer,
	}
}

// NewTransportError wraps a transport failure.
func NewTransportError(peer, op string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeTransport,
		Message: op,
		Peer:    peer,
		Err:     err,
	}
}

// NewJournalError wraps a journal failure.
func NewJournalError(peer, op string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeJournal,
		Message: op,
		Peer:    peer,
		Err:     err,
	}
}

// NewNondeterministicError reports a forward/reverse replay mismatch.
func NewNondeterministicError(what string, records int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeNondeterministic,
		Message: fmt.Sprintf("forward and reverse replay produced different %s", what),
		Details: map[string]string{
			"records": fmt.Sprintf("%d", records),
		},
	}
}
