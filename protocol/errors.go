package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTransport         = errors.New("mork: transport failure")
	ErrProtocol          = errors.New("mork: protocol error")
	ErrUnsupported       = errors.New("mork: unsupported operation")
	ErrTimeout           = errors.New("mork: wait timed out")
	ErrStreamInterrupted = errors.New("mork: status stream interrupted")
	ErrCancelled         = errors.New("mork: wait cancelled")
)

// Error codes carried in ErrorInfo.Code.
const (
	CodeProtocol      = "protocol"
	CodeUnsupported   = "unsupported"
	CodeTransport     = "transport"
	CodeUnknownThread = "unknown_thread"
	CodeNotFound      = "not_found"
	CodeFailed        = "failed"
	CodeStopped       = "stopped"
)

// ErrorInfo describes why a request failed.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Class maps the code to one of the error class sentinels.
func (e ErrorInfo) Class() error {
	switch e.Code {
	case CodeUnsupported:
		return ErrUnsupported
	case CodeTransport, CodeStopped:
		return ErrTransport
	default:
		return ErrProtocol
	}
}

func (e ErrorInfo) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether waiting or resubmitting may succeed without
// changing the request.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrStreamInterrupted)
}
