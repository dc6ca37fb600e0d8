package mqtt

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/sensorgw/internal/infrastructure/config"
)

// brokerOptions scripts the fake broker's answers.
type brokerOptions struct {
	connackCode byte
	subackCode  byte // 0 grants the requested QoS
	ignoreUnsub bool
}

// fakeBroker is an in-process MQTT 3.1.1 broker on a loopback listener.
// Every packet it reads is forwarded to received.
type fakeBroker struct {
	ln   net.Listener
	opts brokerOptions

	mu    sync.Mutex
	conns []net.Conn

	accepted atomic.Int32
	received chan packets.ControlPacket
	closed   chan int
}

func newFakeBroker(t *testing.T, opts brokerOptions) *fakeBroker {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	b := &fakeBroker{
		ln:       ln,
		opts:     opts,
		received: make(chan packets.ControlPacket, 256),
		closed:   make(chan int, 16),
	}
	go b.serve()
	t.Cleanup(b.close)
	return b
}

func (b *fakeBroker) serve() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		n := int(b.accepted.Add(1))
		b.mu.Lock()
		b.conns = append(b.conns, conn)
		b.mu.Unlock()
		go b.handle(n, conn)
	}
}

func (b *fakeBroker) handle(n int, conn net.Conn) {
	defer func() {
		_ = conn.Close()
		b.closed <- n
	}()

	for {
		cp, err := packets.ReadPacket(conn)
		if err != nil {
			return
		}
		b.received <- cp

		switch p := cp.(type) {
		case *packets.ConnectPacket:
			ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
			ack.ReturnCode = b.opts.connackCode
			_ = ack.Write(conn)
			if b.opts.connackCode != packets.Accepted {
				return
			}
		case *packets.SubscribePacket:
			ack := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
			ack.MessageID = p.MessageID
			for _, qos := range p.Qoss {
				code := qos
				if b.opts.subackCode != 0 {
					code = b.opts.subackCode
				}
				ack.ReturnCodes = append(ack.ReturnCodes, code)
			}
			_ = ack.Write(conn)
		case *packets.UnsubscribePacket:
			if b.opts.ignoreUnsub {
				continue
			}
			ack := packets.NewControlPacket(packets.Unsuback).(*packets.UnsubackPacket)
			ack.MessageID = p.MessageID
			_ = ack.Write(conn)
		case *packets.PublishPacket:
			if p.Qos == 1 {
				ack := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
				ack.MessageID = p.MessageID
				_ = ack.Write(conn)
			}
		case *packets.PingreqPacket:
			_ = packets.NewControlPacket(packets.Pingresp).Write(conn)
		case *packets.DisconnectPacket:
			return
		}
	}
}

// send writes a packet to the n-th accepted connection (1-based).
func (b *fakeBroker) send(t *testing.T, n int, cp packets.ControlPacket) {
	t.Helper()
	b.mu.Lock()
	conn := b.conns[n-1]
	b.mu.Unlock()
	if err := cp.Write(conn); err != nil {
		t.Fatalf("broker send: %v", err)
	}
}

// sendRaw writes bytes that need not form a valid packet to connection n.
func (b *fakeBroker) sendRaw(t *testing.T, n int, raw []byte) {
	t.Helper()
	b.mu.Lock()
	conn := b.conns[n-1]
	b.mu.Unlock()
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("broker send: %v", err)
	}
}

// drop closes the n-th accepted connection from the broker side.
func (b *fakeBroker) drop(n int) {
	b.mu.Lock()
	conn := b.conns[n-1]
	b.mu.Unlock()
	_ = conn.Close()
}

func (b *fakeBroker) close() {
	_ = b.ln.Close()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, conn := range b.conns {
		_ = conn.Close()
	}
}

func (b *fakeBroker) config() config.MQTTConfig {
	host, portStr, _ := net.SplitHostPort(b.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     host,
			Port:     port,
			ClientID: "sensorgw-test",
		},
		Auth: config.MQTTAuthConfig{
			Username: "alice",
			Password: "secret",
		},
		QoS:          1,
		KeepAlive:    20,
		PingInterval: 10,
		Connect: config.MQTTConnectConfig{
			Attempts: 10,
			Interval: 100,
		},
	}
}

// expectPacket waits for the next packet of type T, skipping others.
func expectPacket[T packets.ControlPacket](t *testing.T, b *fakeBroker) T {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case cp := <-b.received:
			if p, ok := cp.(T); ok {
				return p
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func isPacket[T packets.ControlPacket](cp packets.ControlPacket) bool {
	_, ok := cp.(T)
	return ok
}

// expectClosed waits until the broker sees connection n end.
func (b *fakeBroker) expectClosed(t *testing.T, n int) {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-b.closed:
			if got == n {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for connection %d to close", n)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var (
	errWriteBroken = errors.New("write: broken pipe")
	errDialRefused = errors.New("dial: connection refused")
)

// flakyConn fails every write once armed.
type flakyConn struct {
	net.Conn
	failWrites atomic.Bool
}

func (c *flakyConn) Write(p []byte) (int, error) {
	if c.failWrites.Load() {
		return 0, errWriteBroken
	}
	return c.Conn.Write(p)
}

// testDialer dials real loopback connections wrapped in flakyConn.
// Dials numbered failFrom and later fail when failFrom > 0.
type testDialer struct {
	failFrom int

	mu    sync.Mutex
	dials int
	conns []*flakyConn
}

func (d *testDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()

	if d.failFrom > 0 && n >= d.failFrom {
		return nil, errDialRefused
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	fc := &flakyConn{Conn: conn}
	d.mu.Lock()
	d.conns = append(d.conns, fc)
	d.mu.Unlock()
	return fc, nil
}

func (d *testDialer) conn(n int) *flakyConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[n-1]
}

func (d *testDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// hangingDialer never completes until its context is cancelled.
type hangingDialer struct {
	cancelled chan struct{}
}

func (d *hangingDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	close(d.cancelled)
	return nil, ctx.Err()
}

// staticResolver maps host names to fixed addresses.
type staticResolver map[string]string

func (r staticResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if addr, ok := r[host]; ok {
		return []string{addr}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}
