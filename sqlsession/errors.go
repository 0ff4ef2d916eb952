package sqlsession

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an [Error] by where in the connection lifecycle it
// originated.
type ErrorKind string

const (
	// KindProvision covers session creation and status polling failures.
	KindProvision ErrorKind = "provision"
	// KindConnect covers duplex channel handshake failures.
	KindConnect ErrorKind = "connect"
	// KindTransport covers mid-session channel failures and unroutable
	// malformed frames. It terminates the session.
	KindTransport ErrorKind = "transport"
	// KindQuery covers server-reported errors scoped to one execution.
	KindQuery ErrorKind = "query"
	// KindTimeout covers local wait expiry for one statement.
	KindTimeout ErrorKind = "timeout"
	// KindConfig covers invalid local configuration.
	KindConfig ErrorKind = "config"
)

// Sentinels for use with errors.Is. Each matches any *Error of the same kind.
var (
	ErrProvision = &Error{Kind: KindProvision}
	ErrConnect   = &Error{Kind: KindConnect}
	ErrTransport = &Error{Kind: KindTransport}
	ErrQuery     = &Error{Kind: KindQuery}
	ErrTimeout   = &Error{Kind: KindTimeout}
	ErrConfig    = &Error{Kind: KindConfig}
)

var (
	// ErrSessionClosed is the cause delivered to callers still waiting when
	// the session closes.
	ErrSessionClosed = errors.New("session closed")
	// ErrStatementExecuted is returned when Execute is called twice on the
	// same statement.
	ErrStatementExecuted = errors.New("statement has already been executed")
	// ErrUnroutableEvent marks an inbound event without an execution id.
	ErrUnroutableEvent = errors.New("event has no execution id")
	// ErrUnknownEvent marks an inbound event with an unrecognized kind.
	ErrUnknownEvent = errors.New("unknown event kind")
)

// Error is the error type returned by every blocking call in this package.
type Error struct {
	Kind        ErrorKind
	Message     string
	ExecutionID string // set for query and timeout errors
	Err         error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.ExecutionID != "" {
		msg = fmt.Sprintf("%s (execution %s)", msg, e.ExecutionID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is by matching any *Error of the same kind. A target
// with an empty kind matches every *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func queryError(executionID, msg string, err error) *Error {
	return &Error{Kind: KindQuery, Message: msg, ExecutionID: executionID, Err: err}
}

// IsKind reports whether any error in err's chain is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
