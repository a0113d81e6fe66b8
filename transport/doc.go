// Package transport is the client's boundary to a MORK server.
//
// Transport is the three-call contract the session layer depends on:
//   - Send: fire an operation, get its correlation ID back immediately
//   - RequestStatus: poll one request's status
//   - OpenEventStream: subscribe to one request's status pushes
//
// HTTP implements it over the server's REST surface:
//
//	POST /v1/ops/{kind}            submit, 202 Status (200 when already terminal)
//	GET  /v1/status/{id}           poll
//	GET  /v1/status_stream/{id}    text/event-stream of Status events
//	GET  /v1/status_ws/{id}        WebSocket of Status messages
//	GET  /v1/ping                  liveness
//
// Built on go-resty/resty with a retryablehttp pooled transport:
//   - Idempotent GETs retry with backoff; submissions do not
//   - A token-bucket rate limiter shared by every session on the transport
//   - A circuit breaker that trips on connection-level failures only
//   - sonic as the JSON codec, gzip bodies above a size threshold
//
// HTTP is safe for concurrent use by any number of sessions.
package transport
