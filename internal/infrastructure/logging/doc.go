// Package logging provides structured logging for the sensor gateway.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Log sinks: each record at or above the remote level is also handed,
//     as one text line, to every registered Sink in order
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"          # debug, info, warn, error
//	  format: "json"         # json, text
//	  output: "stdout"       # stdout, stderr
//	  remote_level: "warn"   # threshold for sinks
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0", brokerSink)
//	logger.Info("reading published", "celsius", 21.4)
//
// # Security
//
// Never log broker passwords or InfluxDB tokens. Sink output may leave the
// device (the broker log topic), so the same rule applies to it.
package logging
