package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/sensorgw/internal/infrastructure/config"
)

// State is the lifecycle state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFaulted:
		return "faulted"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on the receive loop, one at a time. They must not block and
// must not call Subscribe, Unsubscribe or Disconnect.
type MessageHandler func(topic string, payload []byte) error

// ClientStats holds session counters.
type ClientStats struct {
	Publishes        uint64
	PublishFailures  uint64
	Reconnects       uint64
	Pings            uint64
	MessagesReceived uint64
}

// Client is a single MQTT 3.1.1 session driven packet by packet.
//
// Connect dials the broker within a bounded polling window, performs the
// CONNECT handshake and starts two goroutines for the session: a keep-alive
// ticker sending PINGREQ and a receive loop reading inbound packets. When the
// receive loop or a publish hits a transport error, the client tears the
// session down and reconnects once with the saved configuration.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - mu serialises connect, publish, disconnect and the ping tick; no
//     goroutine waits for another while holding it.
type Client struct {
	cfg             config.MQTTConfig
	clientID        string
	dialer          Dialer
	resolver        Resolver
	logger          Logger
	ackTimeout      time.Duration
	pingInterval    time.Duration
	connectAttempts int
	connectInterval time.Duration

	mu    sync.Mutex
	sess  *session
	subs  []Subscription
	state atomic.Int32

	pendingMu sync.Mutex
	pending   map[uint16]chan packets.ControlPacket
	lastID    uint16

	onMessage  MessageHandler
	callbackMu sync.RWMutex

	publishes        atomic.Uint64
	publishFailures  atomic.Uint64
	reconnects       atomic.Uint64
	pings            atomic.Uint64
	messagesReceived atomic.Uint64
}

// New creates a disconnected Client. Call Connect to open the session.
func New(cfg config.MQTTConfig, opts ...Option) *Client {
	c := &Client{
		cfg:             cfg,
		clientID:        cfg.Broker.ClientID,
		dialer:          &net.Dialer{},
		resolver:        net.DefaultResolver,
		ackTimeout:      defaultAckTimeout,
		pingInterval:    cfg.GetPingInterval(),
		connectAttempts: cfg.Connect.Attempts,
		connectInterval: cfg.GetConnectInterval(),
		pending:         make(map[uint16]chan packets.ControlPacket),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.connectAttempts < 1 {
		c.connectAttempts = 1
	}
	if c.connectInterval <= 0 {
		c.connectInterval = 100 * time.Millisecond
	}
	return c
}

// ClientID returns the identifier sent in CONNECT.
func (c *Client) ClientID() string {
	return c.clientID
}

// Connect opens the transport and performs the CONNECT handshake using the
// saved broker address and credentials.
//
// It returns within the connect polling budget even if the broker never
// accepts. On failure the client stays Disconnected and holds no connection.
// A refused CONNECT returns ErrConnectionRefused.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		return ErrAlreadyConnected
	}
	return c.connectLocked(ctx)
}

// Disconnect sends DISCONNECT and releases the transport.
//
// The connection is closed and the session goroutines are stopped even when
// the DISCONNECT packet cannot be written; that error is still returned.
// Disconnecting a client without a session is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return nil
	}

	c.setState(StateDisconnecting)
	err := c.writeLocked(s, packets.NewControlPacket(packets.Disconnect))
	c.teardownLocked(s)
	c.setState(StateDisconnected)
	c.mu.Unlock()

	s.wait()

	if err != nil {
		return fmt.Errorf("%w: %w", ErrDisconnectFailed, err)
	}
	c.logInfo("mqtt disconnected")
	return nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether a session is live.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// HealthCheck verifies the session is live.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetOnMessage sets the handler for inbound PUBLISH packets.
func (c *Client) SetOnMessage(handler MessageHandler) {
	c.callbackMu.Lock()
	c.onMessage = handler
	c.callbackMu.Unlock()
}

// Stats returns a snapshot of the session counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Publishes:        c.publishes.Load(),
		PublishFailures:  c.publishFailures.Load(),
		Reconnects:       c.reconnects.Load(),
		Pings:            c.pings.Load(),
		MessagesReceived: c.messagesReceived.Load(),
	}
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// connectLocked dials, handshakes and starts the session goroutines.
// Caller holds mu and c.sess is nil.
func (c *Client) connectLocked(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if err := c.handshake(conn); err != nil {
		_ = conn.Close()
		c.setState(StateDisconnected)
		return err
	}

	s := newSession(conn)
	c.sess = s
	c.setState(StateConnected)

	s.wg.Add(2)
	go c.receiveLoop(s)
	go c.keepAliveLoop(s)

	c.logInfo("mqtt connected",
		"host", c.cfg.Broker.Host,
		"port", c.cfg.Broker.Port,
		"client_id", c.clientID,
	)
	return nil
}

type dialResult struct {
	conn net.Conn
	err  error
}

// dial resolves the broker host and opens the transport on a separate
// goroutine, checking for the result a fixed number of times.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan dialResult, 1)
	go func() {
		conn, err := c.resolveAndDial(dialCtx)
		result <- dialResult{conn: conn, err: err}
	}()

	ticker := time.NewTicker(c.connectInterval)
	defer ticker.Stop()

	for range c.connectAttempts {
		select {
		case r := <-result:
			return r.conn, r.err
		case <-ctx.Done():
			go discardDial(result)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	// One last look so a dial finishing on the final tick is not wasted.
	select {
	case r := <-result:
		return r.conn, r.err
	default:
	}

	go discardDial(result)
	return nil, fmt.Errorf("%w: no connection after %d checks", ErrTimeout, c.connectAttempts)
}

// discardDial closes a connection that completed after dial gave up.
func discardDial(result <-chan dialResult) {
	if r := <-result; r.conn != nil {
		_ = r.conn.Close()
	}
}

func (c *Client) resolveAndDial(ctx context.Context) (net.Conn, error) {
	host := c.cfg.Broker.Host
	if net.ParseIP(host) == nil {
		addrs, err := c.resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", host, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("resolving %s: no addresses", host)
		}
		host = addrs[0]
	}

	address := net.JoinHostPort(host, strconv.Itoa(c.cfg.Broker.Port))
	return c.dialer.DialContext(ctx, "tcp", address)
}

// handshake sends CONNECT and waits for CONNACK on a fresh connection.
func (c *Client) handshake(conn net.Conn) error {
	connect := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	connect.ProtocolName = protocolName
	connect.ProtocolVersion = protocolLevel
	connect.CleanSession = true
	connect.Keepalive = uint16(c.cfg.KeepAlive)
	connect.ClientIdentifier = c.clientID
	if c.cfg.Auth.Username != "" {
		connect.UsernameFlag = true
		connect.Username = c.cfg.Auth.Username
	}
	if c.cfg.Auth.Password != "" {
		connect.PasswordFlag = true
		connect.Password = []byte(c.cfg.Auth.Password)
	}

	_ = conn.SetDeadline(time.Now().Add(c.ackTimeout))
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	if err := connect.Write(conn); err != nil {
		return fmt.Errorf("%w: sending CONNECT: %w", ErrConnectionFailed, err)
	}

	cp, err := packets.ReadPacket(conn)
	if err != nil {
		return fmt.Errorf("%w: reading CONNACK: %w", ErrConnectionFailed, err)
	}

	ack, ok := cp.(*packets.ConnackPacket)
	if !ok {
		return fmt.Errorf("%w: %w: %s", ErrConnectionFailed, ErrUnexpectedPacket, cp.String())
	}
	if ack.ReturnCode != packets.Accepted {
		return fmt.Errorf("%w: %s", ErrConnectionRefused, packets.ConnackReturnCodes[ack.ReturnCode])
	}
	return nil
}

// writeLocked writes one packet with the write deadline applied.
// Caller holds mu.
func (c *Client) writeLocked(s *session, cp packets.ControlPacket) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(c.ackTimeout))
	return cp.Write(s.conn)
}

// sendDisconnectLocked writes DISCONNECT with a short deadline and ignores
// the result. Caller holds mu.
func (c *Client) sendDisconnectLocked(s *session) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(disconnectWriteTimeout))
	if err := packets.NewControlPacket(packets.Disconnect).Write(s.conn); err != nil {
		c.logDebug("mqtt disconnect before reconnect not sent", "error", err)
	}
}

// teardownLocked stops the session without waiting for its goroutines.
// Caller holds mu.
func (c *Client) teardownLocked(s *session) {
	s.done.Close()
	_ = s.conn.Close()
	if c.sess == s {
		c.sess = nil
	}
	c.failPending()
}

// reconnectLocked replaces a failed session with a fresh one and restores
// its subscriptions. Caller holds mu.
//
// The failed session gets a best-effort DISCONNECT before its transport is
// closed, so a broker still reading the socket ends the session cleanly.
func (c *Client) reconnectLocked(ctx context.Context, failed *session) (*session, error) {
	c.setState(StateFaulted)
	c.sendDisconnectLocked(failed)
	c.teardownLocked(failed)
	c.reconnects.Add(1)

	if err := c.connectLocked(ctx); err != nil {
		c.logError("mqtt reconnect failed", err)
		return nil, err
	}
	c.restoreSubscriptionsLocked()
	return c.sess, nil
}

// receiveLoop reads inbound packets until the session ends.
func (c *Client) receiveLoop(s *session) {
	defer s.wg.Done()

	readTimeout := c.cfg.GetKeepAlive() * 3 / 2
	for {
		if readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		}

		cp, err := packets.ReadPacket(s.conn)
		if err != nil {
			if s.closed() {
				return
			}
			c.recoverSession(s, err)
			return
		}
		c.dispatch(s, cp)
	}
}

// recoverSession runs one reconnect after the receive loop failed.
// The new session starts its own receive loop.
func (c *Client) recoverSession(s *session, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != s {
		return
	}

	c.logWarn("mqtt connection lost, reconnecting", "error", cause)
	if _, err := c.reconnectLocked(context.Background(), s); err != nil {
		c.setState(StateDisconnected)
	}
}

func (c *Client) dispatch(s *session, cp packets.ControlPacket) {
	switch p := cp.(type) {
	case *packets.PingrespPacket:
		// Liveness is covered by the read deadline.
	case *packets.SubackPacket:
		c.deliver(p.MessageID, p)
	case *packets.UnsubackPacket:
		c.deliver(p.MessageID, p)
	case *packets.PubackPacket:
		c.deliver(p.MessageID, p)
	case *packets.PublishPacket:
		c.handlePublish(s, p)
	case *packets.PubrelPacket:
		comp := packets.NewControlPacket(packets.Pubcomp).(*packets.PubcompPacket)
		comp.MessageID = p.MessageID
		c.replyLocked(s, comp)
	default:
		c.logDebug("mqtt ignoring packet", "packet", cp.String())
	}
}

func (c *Client) handlePublish(s *session, p *packets.PublishPacket) {
	c.messagesReceived.Add(1)

	switch p.Qos {
	case 1:
		ack := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
		ack.MessageID = p.MessageID
		c.replyLocked(s, ack)
	case 2:
		rec := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
		rec.MessageID = p.MessageID
		c.replyLocked(s, rec)
	}

	c.callbackMu.RLock()
	handler := c.onMessage
	c.callbackMu.RUnlock()
	if handler != nil {
		c.invokeHandler(handler, p.TopicName, p.Payload)
	}
}

// replyLocked sends an acknowledgement on s if it is still the live session.
func (c *Client) replyLocked(s *session, cp packets.ControlPacket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != s {
		return
	}
	if err := c.writeLocked(s, cp); err != nil {
		// The receive loop sees the broken transport on its next read.
		c.logWarn("mqtt acknowledgement failed", "error", err)
	}
}

// invokeHandler calls a MessageHandler with panic recovery.
func (c *Client) invokeHandler(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("mqtt handler panic recovered", fmt.Errorf("%v", r), "topic", topic)
		}
	}()

	if err := handler(topic, payload); err != nil {
		c.logWarn("mqtt handler returned error", "topic", topic, "error", err)
	}
}

// keepAliveLoop sends PINGREQ every ping interval until the session ends.
func (c *Client) keepAliveLoop(s *session) {
	defer s.wg.Done()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done.Done():
			return
		case <-ticker.C:
			c.ping(s)
		}
	}
}

func (c *Client) ping(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != s {
		return
	}
	if err := c.writeLocked(s, packets.NewControlPacket(packets.Pingreq)); err != nil {
		// Closing the transport hands recovery to the receive loop.
		c.logWarn("mqtt ping failed", "error", err)
		_ = s.conn.Close()
		return
	}
	c.pings.Add(1)
}

// await waits for the acknowledgement registered under id.
func (c *Client) await(ctx context.Context, id uint16, ch <-chan packets.ControlPacket) (packets.ControlPacket, error) {
	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case cp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: session ended before acknowledgement", ErrNotConnected)
		}
		return cp, nil
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	case <-timer.C:
		c.unregister(id)
		return nil, fmt.Errorf("%w: no acknowledgement after %v", ErrTimeout, c.ackTimeout)
	}
}

func (c *Client) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, err error, args ...any) {
	if c.logger == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		c.logger.Debug(msg, append([]any{"error", err}, args...)...)
		return
	}
	c.logger.Error(msg, append([]any{"error", err}, args...)...)
}
