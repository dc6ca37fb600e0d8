package gateway

import "errors"

// Domain errors for the gateway package.
var (
	// ErrUpstreamFailed is returned when the broker link cannot be brought up.
	ErrUpstreamFailed = errors.New("gateway: upstream start failed")

	// ErrQueueFull is reported when a reading is dropped because the
	// publish queue has no room.
	ErrQueueFull = errors.New("gateway: publish queue full")

	// ErrStopped is returned by operations on a stopped gateway.
	ErrStopped = errors.New("gateway: stopped")
)
