package logging

import (
	"strings"

	"go.uber.org/zap"
)

// Field keys shared by client and transport log lines.
const (
	KeyKind      = "kind"
	KeyRequestID = "request_id"
	KeyNamespace = "namespace"
	KeyState     = "state"
	KeyStrategy  = "strategy"
)

// Request returns the correlation fields for one request.
func Request(kind, requestID string) []zap.Field {
	return []zap.Field{
		zap.String(KeyKind, kind),
		zap.String(KeyRequestID, requestID),
	}
}

// Namespace renders a namespace path for log output; the root is "/".
func Namespace(segments []string) zap.Field {
	return zap.String(KeyNamespace, "/"+strings.Join(segments, "/"))
}
