package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/morkclient/protocol"
)

// Transport issues operations against a MORK server. Implementations must be
// safe for concurrent use.
type Transport interface {
	// Send submits an operation for namespace under requestID and returns
	// the server's acknowledgement, which may already be terminal. An empty
	// requestID is replaced by a generated one.
	Send(ctx context.Context, requestID string, kind protocol.Kind, namespace []string, payload protocol.Payload) (protocol.Status, error)
	// RequestStatus polls the status of request id.
	RequestStatus(ctx context.Context, id string) (protocol.Status, error)
	// OpenEventStream subscribes to status pushes for request id.
	OpenEventStream(ctx context.Context, id string) (EventStream, error)
}

// EventStream yields status events until the server closes it. Next returns
// io.EOF on orderly closure.
type EventStream interface {
	Next() (protocol.Event, error)
	Close() error
}

// Pinger is implemented by transports that can check liveness cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Error is a classified transport failure. Class is one of the protocol
// error sentinels, so errors.Is(err, protocol.ErrProtocol) works.
type Error struct {
	Op         string
	StatusCode int
	Info       protocol.ErrorInfo
	Class      error
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Class.Error())
	b.WriteString(": ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Info.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Info.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

// Info extracts the error information carried by err, deriving a code from
// its class when the server sent none.
func Info(err error) protocol.ErrorInfo {
	var terr *Error
	if errors.As(err, &terr) && terr.Info.Code != "" {
		return terr.Info
	}

	info := protocol.ErrorInfo{Message: err.Error()}
	switch {
	case errors.Is(err, protocol.ErrUnsupported):
		info.Code = protocol.CodeUnsupported
	case errors.Is(err, protocol.ErrProtocol):
		info.Code = protocol.CodeProtocol
	default:
		info.Code = protocol.CodeTransport
	}
	return info
}

// contextError classifies a context failure as timeout or cancellation.
func contextError(op string, err error) error {
	class := protocol.ErrCancelled
	if errors.Is(err, context.DeadlineExceeded) {
		class = protocol.ErrTimeout
	}
	return &Error{Op: op, Class: class, Err: err}
}
