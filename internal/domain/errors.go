// Package domain provides shared domain-level error kinds and sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Kind classifies a coordination runtime error.
type Kind string

const (
	// KindValidation marks malformed specs, protocols or payloads. Never retried.
	KindValidation Kind = "validation"

	// KindState marks a state-machine precondition failure (no transition occurred).
	KindState Kind = "state_precondition"

	// KindTool marks an error raised by a tool during task execution.
	KindTool Kind = "tool"

	// KindHandoffTimeout marks a missing acknowledgment within the ack window.
	KindHandoffTimeout Kind = "handoff_timeout"

	// KindHandoffFailure marks a handoff whose retries are exhausted.
	KindHandoffFailure Kind = "handoff_failure"

	// KindConflict marks an unresolvable coordination conflict.
	KindConflict Kind = "coordination_conflict"
)

// Error is a kinded error carrying the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a kinded error from an operation and message.
func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds a kinded error around an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
