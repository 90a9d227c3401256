package session

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why a push did not succeed. The dispatcher maps kinds to
// terminal job statuses: cancelled becomes aborted, everything else failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport covers connect failures, auth rejections, dropped
	// connections and session-level timeouts.
	KindTransport
	// KindCommand means the device accepted the connection but rejected the
	// configuration; the detail carries the device-reported output.
	KindCommand
	// KindCancelled means the push stopped because the caller's cancel
	// signal was observed.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindCommand:
		return "command"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Error is a classified push failure.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// TransportErr wraps a connection-level failure.
func TransportErr(detail string, cause error) *Error {
	return &Error{Kind: KindTransport, Detail: detail, cause: cause}
}

// CommandErr reports a device-rejected configuration.
func CommandErr(detail string, cause error) *Error {
	return &Error{Kind: KindCommand, Detail: detail, cause: cause}
}

// CancelledErr reports a push stopped by the cancel signal.
func CancelledErr(detail string) *Error {
	return &Error{Kind: KindCancelled, Detail: detail, cause: context.Canceled}
}

// KindOf classifies an arbitrary error from a session call. A bare
// context.Canceled counts as cancelled; an unclassified error is treated as
// transport, since that is the only way an unknown failure can surface from
// a network session.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindTransport
}
