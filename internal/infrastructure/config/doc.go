// Package config provides 12-factor configuration for the MORK client and
// the morkctl driver.
//
// Configuration is loaded from environment variables with defaults. A YAML
// file can be layered on top with LoadFile, and morkctl flags override both.
//
// Configuration Sections:
//   - Server: server URL, default namespace, start-up handshake
//   - Wait: poll interval, backoff cap and multiplier, overall wait timeout
//   - Transport: stream mode, HTTP timeout, retries, rate limit, compression
//   - Logging: log level and output format
//   - Metrics: Prometheus listen address
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	session, err := mork.Dial(ctx, cfg)
//
// Environment Variables:
//   - MORK_URL, MORK_NAMESPACE, MORK_HANDSHAKE
//   - MORK_POLL_INTERVAL, MORK_POLL_MAX, MORK_POLL_MULTIPLIER, MORK_WAIT_TIMEOUT
//   - MORK_STREAM_MODE, MORK_HTTP_TIMEOUT, MORK_RETRY_COUNT, MORK_RETRY_WAIT,
//     MORK_RETRY_MAX_WAIT, MORK_RATE_LIMIT_RPS, MORK_COMPRESS_THRESHOLD
//   - LOG_LEVEL, LOG_DEV, METRICS_ADDR
package config
