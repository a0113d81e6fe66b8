/*
Package resilience provides the circuit breaker that guards the MORK HTTP
transport.

# Overview

When the server goes away every session sharing the transport would
otherwise spend its full retry budget on each call. The breaker opens after
repeated connection-level failures and fails calls fast until a trial call
succeeds again. Protocol rejections (malformed input, unsupported scheme)
come from a healthy server and are classified as successes through
Settings.IsSuccessful.

# Usage

	breaker := resilience.New("mork-transport", resilience.Settings{
		MaxRequests: 2,
		Timeout:     10 * time.Second,
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, protocol.ErrTransport)
		},
	})

	status, err := resilience.Execute(breaker, func() (protocol.Status, error) {
		return send(ctx)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open
*/
package resilience
