package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrAlreadyConnected is returned by Connect when a session is live.
	ErrAlreadyConnected = errors.New("mqtt: client already connected")

	// ErrConnectionFailed is returned when the transport or protocol connect fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionRefused is returned when the broker rejects the CONNECT.
	// It is never retried automatically.
	ErrConnectionRefused = errors.New("mqtt: connection refused by broker")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrSubscribeRejected is returned when the broker refuses a subscription.
	// The session is torn down.
	ErrSubscribeRejected = errors.New("mqtt: subscription rejected by broker")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrDisconnectFailed is returned when the DISCONNECT packet could not be
	// sent. The transport is released regardless.
	ErrDisconnectFailed = errors.New("mqtt: disconnect failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidTopic is returned when an empty or invalid topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrUnexpectedPacket is returned when the broker answers with the wrong packet type.
	ErrUnexpectedPacket = errors.New("mqtt: unexpected packet")
)
