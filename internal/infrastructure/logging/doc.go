// Package logging builds the zap loggers used by the MORK client and the
// morkctl driver.
//
// Two output modes:
//   - Production: JSON lines for machine parsing
//   - Development: coloured console output
//
// The client library never creates a logger on its own; callers pass one in
// and the default is zap.NewNop(). Request-scoped fields (kind, request ID,
// namespace) come from the helpers in fields.go so every log line can be
// matched against server-side logs.
//
// Example Usage:
//
//	logger := logging.NewDevelopment()
//	logger.Info("connected", zap.String("url", cfg.Server.URL))
package logging
