package transport

import (
	"context"
	"sync"
)

// pipeConn is one end of an in-memory connection pair. Used by tests and by
// the fake engine in matchtest.
type pipeConn struct {
	name      string
	recv      <-chan Message
	send      chan<- Message
	closed    chan struct{}
	peerClose chan struct{}
	once      *sync.Once
	peerOnce  *sync.Once
}

// Pipe returns two connected in-memory Conn ends. Writes on one end are
// reads on the other; either end closing releases both directions.
func Pipe() (Conn, Conn) {
	aToB := make(chan Message, 64)
	bToA := make(chan Message, 64)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})
	aOnce := &sync.Once{}
	bOnce := &sync.Once{}

	a := &pipeConn{
		name:      "pipe-a",
		recv:      bToA,
		send:      aToB,
		closed:    aClosed,
		peerClose: bClosed,
		once:      aOnce,
		peerOnce:  bOnce,
	}
	b := &pipeConn{
		name:      "pipe-b",
		recv:      aToB,
		send:      bToA,
		closed:    bClosed,
		peerClose: aClosed,
		once:      bOnce,
		peerOnce:  aOnce,
	}
	return a, b
}

func (c *pipeConn) Read(ctx context.Context) (Message, error) {
	// Drain pending messages even when the peer already hung up.
	select {
	case msg := <-c.recv:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.recv:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.closed:
		return Message{}, ErrClosed
	case <-c.peerClose:
		return Message{}, ErrClosed
	}
}

func (c *pipeConn) Write(ctx context.Context, msg Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	case <-c.peerClose:
		return ErrClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	case <-c.peerClose:
		return ErrClosed
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *pipeConn) RemoteAddr() string {
	return c.name
}
