// Package morktest provides an in-memory MORK server for tests.
//
// The server speaks the same /v1 HTTP wire as transport.HTTP: operation
// submission, status polling, SSE and WebSocket status streams. Facts are
// stored per namespace and every submitted operation is applied by a single
// worker in arrival order. Transforms use a minimal s-expression matcher
// where atoms starting with '$' are variables.
//
// Execution threads are read from facts of the form
//
//	(exec (<thread> <priority>) (, <pattern>...) (, <template>...))
//
// and run in priority order, each step rewriting facts like a transform.
//
// Fault injection (Pause, SetStreamCut, SetStatusFailure,
// SetStreamsDisabled) lets tests observe pending requests, stream
// fallback and interrupted waits.
//
// Example Usage:
//
//	srv := morktest.New(t)
//	tr, _ := transport.NewHTTP(transport.DefaultHTTPConfig(srv.URL))
package morktest
