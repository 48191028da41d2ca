package transport

import (
	"context"
	"sync"
)

// Prepend wraps a connection so its first Read yields msg before delegating
// to the underlying connection. The gateway peeks a bot's join frame for slot
// routing and hands the connection on with the frame still in front.
func Prepend(msg Message, inner Conn) Conn {
	return &prependConn{first: msg, inner: inner, pending: true}
}

type prependConn struct {
	inner Conn

	mu      sync.Mutex
	first   Message
	pending bool
}

func (c *prependConn) Read(ctx context.Context) (Message, error) {
	c.mu.Lock()
	if c.pending {
		c.pending = false
		msg := c.first
		c.first = Message{}
		c.mu.Unlock()
		return msg, nil
	}
	c.mu.Unlock()
	return c.inner.Read(ctx)
}

func (c *prependConn) Write(ctx context.Context, msg Message) error {
	return c.inner.Write(ctx, msg)
}

func (c *prependConn) Close() error {
	return c.inner.Close()
}

func (c *prependConn) RemoteAddr() string {
	return c.inner.RemoteAddr()
}
