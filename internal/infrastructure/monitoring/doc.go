/*
Package monitoring provides Prometheus metrics for the MORK client.

# Overview

Metrics cover the request lifecycle (issued, completed, failed), waits by
strategy (poll, stream, race), status stream fallbacks, leaked pending
requests found at scope release, and raw transport calls.

Every Metrics value owns its own registry, so several clients or tests can
coexist in one process. All methods are safe on a nil *Metrics, which is how
the library runs when no metrics are configured.

# Usage

	metrics := monitoring.NewMetrics()
	session, _ := mork.New(tr, mork.WithMetrics(metrics))

	// expose for scraping
	http.Handle("/metrics", metrics.Handler())

	// time a transport call
	timer := monitoring.NewTimer(metrics, "send")
	// ... perform call ...
	timer.Stop("ok")
*/
package monitoring
