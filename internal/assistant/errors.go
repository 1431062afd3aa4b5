package assistant

import (
	"errors"
	"strings"
)

// Kind classifies a bridge failure.
type Kind string

// Error kinds. Auth is a sub-kind of Connection.
const (
	KindPermission Kind = "permission"
	KindDevice     Kind = "device"
	KindConnection Kind = "connection"
	KindAuth       Kind = "auth"
)

// NormalReason is the stop reason of a session the remote side closed
// without a message. It is not shown as an error.
const NormalReason = "session closed"

// AuthMessage replaces the error text of authentication failures.
const AuthMessage = "API key invalid or not linked"

// ErrAborted is returned by Start when Stop was called while starting.
var ErrAborted = errors.New("start aborted")

// Error is a failure of the audio bridge.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// connectionError wraps a dial failure, promoting it to Auth when the
// text names a credential problem.
func connectionError(err error) *Error {
	if IsAuthFailure(err.Error()) {
		return newError(KindAuth, err)
	}
	return newError(KindConnection, err)
}

func kindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsPermission reports whether err is a denied microphone.
func IsPermission(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindPermission
}

// IsConnection reports whether err is a remote session failure,
// including authentication failures.
func IsConnection(err error) bool {
	k, ok := kindOf(err)
	return ok && (k == KindConnection || k == KindAuth)
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAuth
}

var authMarkers = []string{
	"API key not valid",
	"Requested entity was not found",
	"401",
	"403",
}

// IsAuthFailure reports whether a failure text indicates an invalid or
// missing credential.
func IsAuthFailure(reason string) bool {
	for _, m := range authMarkers {
		if strings.Contains(reason, m) {
			return true
		}
	}
	return false
}

// ClosedError reports that the remote side closed the session.
type ClosedError struct {
	Reason string
}

func (e *ClosedError) Error() string {
	if e.Reason == "" {
		return NormalReason
	}
	return e.Reason
}
