package quic

import (
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
)

// streamConn adapts the single bidirectional stream of a QUIC connection to
// net.Conn. Closing it closes the whole connection.
type streamConn struct {
	conn   *quic.Conn
	stream *quic.Stream

	closeOnce sync.Once
	release   func()
}

func newStreamConn(conn *quic.Conn, stream *quic.Stream, release func()) *streamConn {
	return &streamConn{conn: conn, stream: stream, release: release}
}

func (c *streamConn) Read(p []byte) (int, error) {
	return c.stream.Read(p)
}

func (c *streamConn) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.CloseWithError(errCodeClosed, "session closed")
		if c.release != nil {
			c.release()
		}
	})
	return err
}

func (c *streamConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *streamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *streamConn) SetDeadline(t time.Time) error {
	return c.stream.SetDeadline(t)
}

func (c *streamConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *streamConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

var _ net.Conn = (*streamConn)(nil)
