package testerclient

import (
	"errors"
	"fmt"
)

// Protocol error codes.
const (
	// CodeTypeMismatch is reported when the first frame is not status/start
	CodeTypeMismatch = "type_mismatch"
	// CodeInvalidMessageType is reported for well-formed envelopes of an unexpected kind
	CodeInvalidMessageType = "invalid_message_type"
	// CodeInvalidMessageFormat is reported for envelopes missing type or data
	CodeInvalidMessageFormat = "invalid_message_format"
	// CodeMalformedFrame is reported when a frame is not valid JSON
	CodeMalformedFrame = "malformed_frame"
)

var (
	// ErrPrematureEnd is returned when the stream closes before status/finish
	ErrPrematureEnd = errors.New("session stream ended before finish")
	// ErrIdleTimeout is returned when no frame arrives within the idle timeout
	ErrIdleTimeout = errors.New("session stream idle timeout")
	// ErrClientClosed is returned for operations on a closed client
	ErrClientClosed = errors.New("tester client is closed")
)

// ProtocolError is raised when the service sends content this client cannot
// interpret. It is always delivered through the cancellation handler.
type ProtocolError struct {
	Code    string
	Message string
	Details string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol violation [%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// Is matches protocol errors by code, so errors.Is(err, &ProtocolError{Code: CodeTypeMismatch})
// works without comparing messages.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

func newProtocolError(code, message, details string) *ProtocolError {
	return &ProtocolError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// StatusError reports a non-success HTTP status from the service.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("request to %s failed with status %d", e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// TransportError wraps connection level failures (refused, reset, I/O).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is (or wraps) a protocol violation.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsTransportError reports whether err is (or wraps) a transport failure.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
