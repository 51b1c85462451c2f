package occupancy

import (
	"errors"
	"fmt"
)

// Kind classifies coordinator failures so the transport layer can map them
// to status codes without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindPreconditionFailed
	KindUnauthorized
	KindConflict
	KindUpstreamUnavailable
)

// Error is a typed coordinator outcome with a human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from an error chain, KindUnknown if untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func notFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Reason: fmt.Sprintf(format, args...)}
}

func preconditionf(format string, args ...any) error {
	return &Error{Kind: KindPreconditionFailed, Reason: fmt.Sprintf(format, args...)}
}

func unauthorizedf(format string, args ...any) error {
	return &Error{Kind: KindUnauthorized, Reason: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Reason: fmt.Sprintf(format, args...)}
}

func upstream(reason string, err error) error {
	return &Error{Kind: KindUpstreamUnavailable, Reason: reason, Err: err}
}
