package mqtt

import (
	"context"
	"fmt"
	"slices"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Subscription is one topic filter and its requested QoS.
type Subscription struct {
	Topic string
	QoS   byte
}

// Subscribe records the subscriptions and sends SUBSCRIBE.
//
// It waits for SUBACK outside the session lock. If the broker refuses any
// topic, the session is torn down and ErrSubscribeRejected is returned; the
// refused topics are forgotten and no retry is attempted.
//
// Recorded subscriptions are restored after an automatic reconnect and
// removed by Unsubscribe.
func (c *Client) Subscribe(ctx context.Context, subs ...Subscription) error {
	if len(subs) == 0 {
		return nil
	}
	for _, sub := range subs {
		if sub.Topic == "" {
			return ErrInvalidTopic
		}
		if sub.QoS > maxSubscribeQoS {
			return ErrInvalidQoS
		}
	}

	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}

	id, ch := c.register()
	if err := c.writeLocked(s, subscribePacket(id, subs)); err != nil {
		c.unregister(id)
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	c.subs = mergeSubscriptions(c.subs, subs)
	c.mu.Unlock()

	cp, err := c.await(ctx, id, ch)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	ack, ok := cp.(*packets.SubackPacket)
	if !ok {
		return fmt.Errorf("%w: %w: %s", ErrSubscribeFailed, ErrUnexpectedPacket, cp.String())
	}

	var rejected []string
	for i, code := range ack.ReturnCodes {
		if code == subackFailure && i < len(subs) {
			rejected = append(rejected, subs[i].Topic)
		}
	}
	if len(rejected) == 0 {
		c.logDebug("mqtt subscribed", "topics", topicsOf(subs))
		return nil
	}

	c.mu.Lock()
	c.subs = slices.DeleteFunc(c.subs, func(sub Subscription) bool {
		return slices.Contains(rejected, sub.Topic)
	})
	if c.sess == s {
		c.teardownLocked(s)
		c.setState(StateDisconnected)
	}
	c.mu.Unlock()
	s.wait()

	return fmt.Errorf("%w: %v", ErrSubscribeRejected, rejected)
}

// Unsubscribe removes every recorded subscription.
//
// It is best effort: the recorded set is cleared even when the request
// fails, and callers tearing down the session may ignore the error.
func (c *Client) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	topics := topicsOf(c.subs)
	c.subs = nil
	if s == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if len(topics) == 0 {
		c.mu.Unlock()
		return nil
	}

	unsub := packets.NewControlPacket(packets.Unsubscribe).(*packets.UnsubscribePacket)
	id, ch := c.register()
	unsub.MessageID = id
	unsub.Topics = topics

	if err := c.writeLocked(s, unsub); err != nil {
		c.unregister(id)
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	c.mu.Unlock()

	if _, err := c.await(ctx, id, ch); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// recordedSubscriptions returns a copy of the subscriptions restored after a
// reconnect.
func (c *Client) recordedSubscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.subs)
}

// restoreSubscriptionsLocked re-sends the recorded subscriptions on a new
// session without waiting for SUBACK. Caller holds mu.
func (c *Client) restoreSubscriptionsLocked() {
	if len(c.subs) == 0 || c.sess == nil {
		return
	}
	// The identifier is released at once, so the SUBACK is dropped.
	if err := c.writeLocked(c.sess, subscribePacket(c.nextUnregisteredID(), c.subs)); err != nil {
		c.logWarn("mqtt restoring subscriptions failed", "error", err)
	}
}

// nextUnregisteredID returns an identifier that no waiter is registered on.
func (c *Client) nextUnregisteredID() uint16 {
	id, _ := c.register()
	c.unregister(id)
	return id
}

func subscribePacket(id uint16, subs []Subscription) *packets.SubscribePacket {
	sub := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket)
	sub.MessageID = id
	for _, s := range subs {
		sub.Topics = append(sub.Topics, s.Topic)
		sub.Qoss = append(sub.Qoss, s.QoS)
	}
	return sub
}

// mergeSubscriptions adds subs to existing, replacing entries with the same topic.
func mergeSubscriptions(existing, subs []Subscription) []Subscription {
	for _, sub := range subs {
		i := slices.IndexFunc(existing, func(e Subscription) bool { return e.Topic == sub.Topic })
		if i >= 0 {
			existing[i] = sub
			continue
		}
		existing = append(existing, sub)
	}
	return existing
}

func topicsOf(subs []Subscription) []string {
	topics := make([]string, len(subs))
	for i, s := range subs {
		topics[i] = s.Topic
	}
	return topics
}
