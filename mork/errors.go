package mork

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/morkclient/protocol"
	"github.com/GriffinCanCode/morkclient/transport"
)

// Error classes. Transport, timeout and stream-interrupted failures are
// retryable; see protocol.Retryable.
var (
	ErrTransport         = protocol.ErrTransport
	ErrProtocol          = protocol.ErrProtocol
	ErrUnsupported       = protocol.ErrUnsupported
	ErrTimeout           = protocol.ErrTimeout
	ErrStreamInterrupted = protocol.ErrStreamInterrupted
	ErrCancelled         = protocol.ErrCancelled
)

// Client-side failures, reported at the call site.
var (
	ErrInvalidArgument = errors.New("mork: invalid argument")
	ErrSessionReleased = errors.New("mork: session released")
	ErrExhausted       = errors.New("mork: exploration exhausted")
)

// Codes for wait failures that never reached the server.
const (
	codeTimeout     = "timeout"
	codeCancelled   = "cancelled"
	codeInterrupted = "stream_interrupted"
)

// RequestError correlates a failure with the request it belongs to.
type RequestError struct {
	Kind    protocol.Kind
	ID      string
	Code    string
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("mork: %s request %s", e.Kind, e.ID)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *RequestError) Unwrap() error { return e.Err }

// newRequestError wraps cause, deriving the code from its class.
func newRequestError(kind protocol.Kind, requestID string, cause error) *RequestError {
	return &RequestError{
		Kind:    kind,
		ID:      requestID,
		Code:    errorCode(cause),
		Message: cause.Error(),
		Err:     cause,
	}
}

// failureError builds the terminal error of a Failed request.
func failureError(kind protocol.Kind, requestID string, info protocol.ErrorInfo) *RequestError {
	return &RequestError{
		Kind:    kind,
		ID:      requestID,
		Code:    info.Code,
		Message: info.Message,
		Err:     info.Class(),
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return codeTimeout
	case errors.Is(err, ErrCancelled):
		return codeCancelled
	case errors.Is(err, ErrStreamInterrupted):
		return codeInterrupted
	default:
		return transport.Info(err).Code
	}
}
