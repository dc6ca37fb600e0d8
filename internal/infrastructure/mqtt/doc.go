// Package mqtt provides the upstream broker session for the sensor gateway.
//
// This package manages:
//   - A single MQTT 3.1.1 session over TCP, encoded with the paho packets codec
//   - Bounded connect: the dial is polled a fixed number of times
//   - Keep-alive PINGREQ on a ticker strictly shorter than the keep-alive
//   - A receive loop handling acknowledgements and inbound messages
//   - One automatic reconnect when a publish write or the receive loop fails
//   - Topic routing from reading kinds (TopicFor)
//
// # Session Lifecycle
//
//	Disconnected -> Connecting -> Connected -> (Disconnecting | Faulted) -> Disconnected
//
// Exactly one session is live at a time. Connect, publish, disconnect and
// the ping tick run under one mutex, so a reconnect never swaps the
// connection under an in-flight write. Acknowledgements are awaited outside
// that mutex.
//
// # Failure Policy
//
//   - Initial Connect and Subscribe report failures to the caller.
//   - A refused CONNECT or SUBSCRIBE is never retried.
//   - A failed publish write triggers one disconnect/reconnect cycle and a
//     single resend; a second failure is returned and leaves the client
//     Disconnected.
//   - A receive loop error triggers one reconnect; the new session starts
//     its own receive loop.
//   - Unsubscribe is best effort; Disconnect always releases the transport.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, mqtt.WithLogger(logger))
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	err := client.Publish(ctx, reading.NewTemperature(raw, src))
package mqtt
