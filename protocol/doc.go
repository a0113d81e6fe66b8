// Package protocol defines the vocabulary shared by the MORK client, its
// transports and the test server.
//
// Types:
//   - Kind: the operation a request performs (upload, transform, exec, ...)
//   - State: request lifecycle (pending, running, completed, failed)
//   - Status: one observation of a request, returned by polls and acks
//   - Event: one push notification on a request's status stream
//   - Payload / Result: operation input and terminal output
//
// Error classes:
//   - ErrTransport: connection or IO failure, retryable
//   - ErrProtocol: server rejected the request, fix the input
//   - ErrUnsupported: server lacks the capability (e.g. a URI scheme)
//   - ErrTimeout: a wait exceeded its deadline, wait again
//   - ErrStreamInterrupted: push channel and polling fallback both failed
//   - ErrCancelled: the caller stopped waiting
package protocol
