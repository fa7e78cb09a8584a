// Package errors defines the WFD core's typed error model. Every failure
// the session, dispatcher, codecs, or pipeline supervisor can produce is
// classified into one of the Kind values below so callers can branch on
// cause (RTSP status mapping, teardown policy) without string matching.
package errors

import (
	stdErrors "errors"
	"fmt"
)

// Kind classifies a Error. The set matches the error kinds named by the
// session's error handling design exactly.
type Kind int

const (
	KindInvalidInput Kind = iota
	KindNotConnected
	KindBadAddressFamily
	KindInProgress
	KindOSIO
	KindProtocolError
	KindUnsupportedResolution
	KindOptionNotSupported
	KindNotImplemented
	KindOutOfMemory
	KindPipelineFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "INVALID_INPUT"
	case KindNotConnected:
		return "NOT_CONNECTED"
	case KindBadAddressFamily:
		return "BAD_ADDRESS_FAMILY"
	case KindInProgress:
		return "IN_PROGRESS"
	case KindOSIO:
		return "OS_IO"
	case KindProtocolError:
		return "PROTOCOL_ERROR"
	case KindUnsupportedResolution:
		return "UNSUPPORTED_RESOLUTION"
	case KindOptionNotSupported:
		return "OPTION_NOT_SUPPORTED"
	case KindNotImplemented:
		return "NOT_IMPLEMENTED"
	case KindOutOfMemory:
		return "OUT_OF_MEMORY"
	case KindPipelineFailed:
		return "PIPELINE_FAILED"
	default:
		return "UNKNOWN"
	}
}

// RTSPStatus maps a Kind to the RTSP status code the dispatcher replies
// with, for the kinds that have a defined wire-level mapping.
func (k Kind) RTSPStatus() (code int, ok bool) {
	switch k {
	case KindOptionNotSupported:
		return 551, true
	case KindNotImplemented:
		return 501, true
	case KindProtocolError:
		return 400, true
	default:
		return 0, false
	}
}

// Error is the WFD core's single exported error type. Op names the
// high-level operation that failed (e.g. "session.initiateIO",
// "dispatch.m6"); Err is the wrapped cause, which may be nil.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind.
func New(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err is (or wraps) a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !stdErrors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of err if it is (or wraps) a *Error.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if !stdErrors.As(err, &e) {
		return 0, false
	}
	return e.Kind, true
}

// IsProtocolError reports whether err is a PROTOCOL_ERROR-kind Error.
func IsProtocolError(err error) bool { return Is(err, KindProtocolError) }
