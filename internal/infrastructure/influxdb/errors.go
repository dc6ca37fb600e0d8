package influxdb

import "errors"

// Telemetry errors. Check them with errors.Is.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned by Connect when the server does not
	// answer the initial ping or reports itself unhealthy.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps every error passed to the SetOnError callback.
	// Writes are batched, so failures surface there rather than at the call.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
