// Package transport adapts non-TCP carriers into net.Conn so the rest of
// the server only ever deals with one connection abstraction, regardless
// of whether bytes travel over a raw TLS socket or a WebSocket (spec.md §9
// design note: the WebSocket alternate transport carries the same framed,
// encrypted envelopes, just inside binary WS messages instead of a raw
// stream).
package transport

import (
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn adapts a *websocket.Conn to the net.Conn interface expected by
// wire.FrameReader/FrameWriter. Each Write call (one full length-prefixed
// frame, per wire.FrameWriter's single fw.w.Write(buf) call) becomes
// exactly one binary WebSocket message; Read reassembles the byte stream
// from incoming WS messages, buffering across calls the way a real socket
// would.
type WSConn struct {
	ws     *websocket.Conn
	reader io.Reader // current unread tail of the most recent WS message
}

// NewWSConn wraps an already-upgraded WebSocket connection.
func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

func (c *WSConn) Read(p []byte) (int, error) {
	for c.reader == nil {
		_, r, err := c.ws.NextReader()
		if err != nil {
			return 0, err
		}
		c.reader = r
	}
	n, err := c.reader.Read(p)
	if err == io.EOF {
		c.reader = nil
		if n == 0 {
			return c.Read(p)
		}
		err = nil
	}
	return n, err
}

func (c *WSConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *WSConn) Close() error                       { return c.ws.Close() }
func (c *WSConn) LocalAddr() net.Addr                { return c.ws.LocalAddr() }
func (c *WSConn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }
func (c *WSConn) SetDeadline(t time.Time) error      { return c.ws.UnderlyingConn().SetDeadline(t) }
func (c *WSConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *WSConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
