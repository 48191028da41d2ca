// Package transport abstracts the bidirectional message channels the proxy
// speaks over: supervisor and bot websockets on the gateway side, the engine
// control endpoint on the other. Sessions and bridges only ever see Conn, so
// tests swap in in-memory pipes.
package transport

import (
	"context"
	"errors"
)

type Kind int

const (
	KindText Kind = iota
	KindBinary
)

// ErrClosed is returned once the peer or the owner has closed the channel.
var ErrClosed = errors.New("transport: connection closed")

type Message struct {
	Kind Kind
	Data []byte
}

type Conn interface {
	// Read blocks until a message arrives, the context is canceled or the
	// connection is closed.
	Read(ctx context.Context) (Message, error)
	// Write sends one message.
	Write(ctx context.Context, msg Message) error
	// Close releases the connection. Safe to call more than once.
	Close() error
	// RemoteAddr identifies the peer for logs.
	RemoteAddr() string
}

func Text(data string) Message   { return Message{Kind: KindText, Data: []byte(data)} }
func Binary(data []byte) Message { return Message{Kind: KindBinary, Data: data} }
