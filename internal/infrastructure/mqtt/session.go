package mqtt

import (
	"net"
	"sync"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// session is one live broker connection and the goroutines serving it.
type session struct {
	conn net.Conn
	done *closeOnce
	wg   sync.WaitGroup
}

func newSession(conn net.Conn) *session {
	return &session{conn: conn, done: newCloseOnce()}
}

func (s *session) closed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// wait blocks until the receive and keep-alive loops have returned.
func (s *session) wait() {
	s.wg.Wait()
}

// register reserves a packet identifier and the channel its
// acknowledgement is delivered on.
func (c *Client) register() (uint16, chan packets.ControlPacket) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	id := c.lastID
	for {
		id++
		if id == 0 {
			continue
		}
		if _, busy := c.pending[id]; !busy {
			break
		}
	}
	c.lastID = id

	ch := make(chan packets.ControlPacket, 1)
	c.pending[id] = ch
	return id, ch
}

func (c *Client) unregister(id uint16) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// deliver hands an acknowledgement to its waiter. Unknown identifiers
// (such as SUBACKs for restored subscriptions) are dropped.
func (c *Client) deliver(id uint16, cp packets.ControlPacket) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()

	if ok {
		ch <- cp
	}
}

// failPending wakes every waiter with a closed channel.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
