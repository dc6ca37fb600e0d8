package mqtt

import (
	"context"
	"fmt"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/sensorgw/internal/reading"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a reading to the topic its event kind maps to.
//
// Readings whose kind has no topic are skipped and nil is returned.
// See PublishMessage for the transport failure policy.
func (c *Client) Publish(ctx context.Context, r reading.Reading) error {
	topic := TopicFor(r.Kind, c.cfg)
	if topic == "" {
		c.logDebug("mqtt no topic for reading, skipped", "kind", r.Kind.String())
		return nil
	}
	return c.PublishMessage(ctx, topic, []byte(r.Payload()))
}

// PublishMessage sends payload to topic with the configured QoS.
//
// If the write fails, the client runs exactly one disconnect-then-reconnect
// cycle with the saved configuration and sends the message once more on the
// new session. If the reconnect or the second write fails, the error is
// returned and the client is left Disconnected.
//
// With QoS 1 the call waits for PUBACK outside the session lock.
func (c *Client) PublishMessage(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	qos := byte(c.cfg.QoS)
	if qos > maxPublishQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}

	id, ch, err := c.sendPublishLocked(s, topic, payload, qos)
	if err != nil {
		c.logWarn("mqtt publish failed, reconnecting", "topic", topic, "error", err)

		s, err = c.reconnectLocked(ctx, s)
		if err == nil {
			id, ch, err = c.sendPublishLocked(s, topic, payload, qos)
			if err != nil {
				c.teardownLocked(s)
				c.setState(StateDisconnected)
			}
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.publishFailures.Add(1)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	c.publishes.Add(1)

	if ch == nil {
		return nil
	}
	if _, err := c.await(ctx, id, ch); err != nil {
		c.publishFailures.Add(1)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// sendPublishLocked writes one PUBLISH. For QoS 1 it returns the channel
// the PUBACK arrives on. Caller holds mu.
func (c *Client) sendPublishLocked(s *session, topic string, payload []byte, qos byte) (uint16, chan packets.ControlPacket, error) {
	pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pub.TopicName = topic
	pub.Payload = payload
	pub.Qos = qos

	var (
		id uint16
		ch chan packets.ControlPacket
	)
	if qos > 0 {
		id, ch = c.register()
		pub.MessageID = id
	}

	if err := c.writeLocked(s, pub); err != nil {
		if ch != nil {
			c.unregister(id)
		}
		return 0, nil, err
	}
	return id, ch, nil
}
