package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"nhooyr.io/websocket"
)

// Engine observation frames can be large when raw interfaces are enabled.
const MaxFrameSize = 128 << 20

type wsConn struct {
	conn       *websocket.Conn
	remoteAddr string
}

// NewWebsocketConn wraps an accepted or dialed websocket as a Conn.
func NewWebsocketConn(conn *websocket.Conn, remoteAddr string) Conn {
	conn.SetReadLimit(MaxFrameSize)
	return &wsConn{conn: conn, remoteAddr: remoteAddr}
}

func (c *wsConn) Read(ctx context.Context) (Message, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return Message{}, mapCloseError(err)
	}

	kind := KindBinary
	if typ == websocket.MessageText {
		kind = KindText
	}
	return Message{Kind: kind, Data: data}, nil
}

func (c *wsConn) Write(ctx context.Context, msg Message) error {
	typ := websocket.MessageBinary
	if msg.Kind == KindText {
		typ = websocket.MessageText
	}

	if err := c.conn.Write(ctx, typ, msg.Data); err != nil {
		return mapCloseError(err)
	}
	return nil
}

func (c *wsConn) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	if err != nil && websocket.CloseStatus(err) != -1 {
		return nil
	}
	return err
}

func (c *wsConn) RemoteAddr() string {
	return c.remoteAddr
}

func mapCloseError(err error) error {
	if websocket.CloseStatus(err) != -1 {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
