package delivery

import (
	"log/slog"
	"sync"
)

// Conn is the narrow transport contract a channel writes to. The gorilla
// adapter in wsconn.go is the production implementation; tests supply fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Channel serializes outbound messages to one subscriber. Concurrent sends
// from independent fan-out goroutines take the send mutex one at a time, so
// the bytes of two messages never interleave and enqueue order is delivery
// order. Once the transport fails or the channel is closed every further
// send is a quiet no-op.
type Channel struct {
	mu     sync.Mutex
	conn   Conn
	closed bool
	log    *slog.Logger
	onDead func()
}

// NewChannel wraps conn. onDead is invoked at most once, on the first
// failed write or explicit Close, so the owner can unregister the
// subscriber; it may be nil.
func NewChannel(conn Conn, log *slog.Logger, onDead func()) *Channel {
	return &Channel{
		conn:   conn,
		log:    log.With(slog.String("component", "delivery")),
		onDead: onDead,
	}
}

// SetOnDead installs the dead-transport callback after construction, for
// owners that only learn the subscriber's identity once registration
// completes. Installing under the send mutex means a concurrent failing
// Send either sees the callback or happened before it existed; a channel
// that died first stays dead and the callback is never invoked.
func (c *Channel) SetOnDead(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.onDead = fn
}

// Send writes one message. A send on a closed or dead channel is a no-op.
func (c *Channel) Send(msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.log.Debug("send on closed channel dropped")
		return
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.Debug("subscriber write failed", slog.String("error", err.Error()))
		c.markDeadLocked()
	}
}

// Close shuts the underlying transport. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.markDeadLocked()
}

// Closed reports whether the channel no longer accepts sends.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) markDeadLocked() {
	c.closed = true
	_ = c.conn.Close()
	if c.onDead != nil {
		dead := c.onDead
		c.onDead = nil
		go dead()
	}
}
