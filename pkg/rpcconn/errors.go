package rpcconn

import (
	"errors"
	"fmt"
	"syscall"
)

// Status classifies every error this package surfaces. The set is closed;
// callers can switch on it without worrying about new members appearing in a
// patch release.
type Status int

const (
	// StatusSuccess is the status of a nil error; never carried by a *Error.
	StatusSuccess Status = iota

	// StatusInvalidInput means the caller supplied something malformed: an
	// unparseable request, a bad descriptor, an oversized hostname.
	StatusInvalidInput

	// StatusNotSupported means the request named a scheme or facility this
	// library or the daemon does not provide.
	StatusNotSupported

	// StatusConnectIO means the transport to the daemon could not be
	// established.
	StatusConnectIO

	// StatusBadAuth means authentication failed: unreadable cookie file,
	// wrong MAC, or the daemon rejected our credentials.
	StatusBadAuth

	// StatusPeerProtocolViolation means the daemon sent something the
	// protocol does not allow. The connection is unusable afterwards.
	StatusPeerProtocolViolation

	// StatusShutdown means the connection has closed, locally or by the
	// peer, and the operation could not complete.
	StatusShutdown

	// StatusInternal means this library detected a bug in itself.
	StatusInternal

	// StatusRequestFailed means the daemon answered a request with an error
	// reply; the connection remains usable. The reply is available from
	// Error.Response.
	StatusRequestFailed

	// StatusRequestCancelled means the request's handle was closed before
	// the outcome arrived.
	StatusRequestCancelled

	// StatusProxyIO means a data-stream connection through the daemon's
	// SOCKS proxy failed.
	StatusProxyIO
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidInput:
		return "invalid input"
	case StatusNotSupported:
		return "not supported"
	case StatusConnectIO:
		return "connect i/o error"
	case StatusBadAuth:
		return "authentication failed"
	case StatusPeerProtocolViolation:
		return "peer protocol violation"
	case StatusShutdown:
		return "connection shut down"
	case StatusInternal:
		return "internal error"
	case StatusRequestFailed:
		return "request failed"
	case StatusRequestCancelled:
		return "request cancelled"
	case StatusProxyIO:
		return "proxy i/o error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Error is the error type for everything in this package. It is immutable
// once constructed; Clone exists for callers that want to hold a copy past
// the lifetime of whatever produced it.
type Error struct {
	status   Status
	message  string
	osCode   int
	response string
	cause    error
}

// newError builds a *Error with no underlying cause.
func newError(status Status, format string, args ...interface{}) *Error {
	return &Error{status: status, message: fmt.Sprintf(format, args...)}
}

// wrapError builds a *Error around cause, extracting the OS error number if
// cause carries one.
func wrapError(status Status, cause error, format string, args ...interface{}) *Error {
	e := &Error{
		status:  status,
		message: fmt.Sprintf(format, args...) + ": " + cause.Error(),
		cause:   cause,
	}
	var errno syscall.Errno
	if errors.As(cause, &errno) {
		e.osCode = int(errno)
	}
	return e
}

// withResponse returns a copy of e carrying the raw JSON error reply that
// produced it.
func (e *Error) withResponse(raw string) *Error {
	e2 := *e
	e2.response = raw
	return &e2
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.status, e.message)
}

// Status returns the error's classification.
func (e *Error) Status() Status { return e.status }

// OSCode returns the operating-system error number underlying this error,
// or 0 if there is none.
func (e *Error) OSCode() int { return e.osCode }

// Response returns the raw JSON error reply from the daemon, or "" if this
// error did not originate as one.
func (e *Error) Response() string { return e.response }

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Clone returns an independent copy of e.
func (e *Error) Clone() *Error {
	e2 := *e
	return &e2
}

// StatusOf classifies an error returned by this package: StatusSuccess for
// nil, the error's own status for a *Error, and StatusInternal for anything
// else (an error of another type escaping this package is a bug).
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.status
	}
	return StatusInternal
}
