// Package cmn provides shared low-level types and utilities for the
// metadata coordination core: configuration, structured errors, metrics,
// and id helpers.
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the three error families the core ever surfaces (spec §7).
type Kind int

const (
	// MetaStoreFailure covers transport, serialization, session-loss and
	// lock-loss errors from the backing coordination service.
	MetaStoreFailure Kind = iota
	// InvariantViolation marks a cache-consistency anomaly (e.g. I-SU1).
	// These are logged, never returned to a caller as a failure.
	InvariantViolation
	// CapacityExceeded is reserved; nothing in this core raises it yet.
	CapacityExceeded
)

func (k Kind) String() string {
	switch k {
	case MetaStoreFailure:
		return "meta-store-failure"
	case InvariantViolation:
		return "invariant-violation"
	case CapacityExceeded:
		return "capacity-exceeded"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by public manager methods that
// can fail. The underlying cause is preserved via pkg/errors so callers can
// still errors.Cause() through to the backend's own error.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.err)
}

func (e *Error) Unwrap() error { return e.err }
func (e *Error) Cause() error  { return errors.Cause(e.err) }

// WrapStore wraps a backend error as a MetaStoreFailure.
func WrapStore(op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: MetaStoreFailure, Op: op, err: errors.Wrap(err, op)}
}

// Invariant builds an InvariantViolation error for logging. Internal
// helpers may hand it to their caller, which logs it; public manager
// methods never return it.
func Invariant(format string, args ...interface{}) *Error {
	return &Error{Kind: InvariantViolation, Op: fmt.Sprintf(format, args...)}
}

func IsKind(err error, k Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == k
	}
	return false
}
