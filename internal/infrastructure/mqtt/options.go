package mqtt

import (
	"context"
	"net"
	"time"
)

// Connection constants.
const (
	// protocolName and protocolLevel select MQTT 3.1.1.
	protocolName  = "MQTT"
	protocolLevel = 4

	// defaultAckTimeout bounds the wait for CONNACK, SUBACK, UNSUBACK and PUBACK,
	// and every packet write.
	defaultAckTimeout = 5 * time.Second

	// disconnectWriteTimeout bounds the DISCONNECT sent to a failed session.
	disconnectWriteTimeout = 250 * time.Millisecond

	// maxPublishQoS is the highest QoS this client publishes with.
	maxPublishQoS = 1

	// maxSubscribeQoS is the highest QoS a subscription may request.
	maxSubscribeQoS = 2

	// subackFailure is the SUBACK return code for a refused topic.
	subackFailure = 0x80
)

// Dialer opens transport connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver resolves broker host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the transport dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithResolver replaces the host name resolver.
func WithResolver(r Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

// WithLogger sets the client logger.
func WithLogger(l Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClientID overrides the configured client identifier.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// WithAckTimeout overrides the acknowledgement and write timeout.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ackTimeout = d
		}
	}
}

// WithPingInterval overrides the configured keep-alive ping interval.
// It must stay below the keep-alive.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}
