package log

import (
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
)

// tracedConn wraps a net.Conn and writes a hex dump of all traffic to a writer.
type tracedConn struct {
	net.Conn

	mu  sync.Mutex
	out io.Writer
}

func (tc *tracedConn) Read(b []byte) (int, error) {
	n, err := tc.Conn.Read(b)
	if n > 0 {
		tc.dump("<", b[:n])
	}
	return n, err
}

func (tc *tracedConn) Write(b []byte) (int, error) {
	n, err := tc.Conn.Write(b)
	if n > 0 {
		tc.dump(">", b[:n])
	}
	return n, err
}

func (tc *tracedConn) dump(dir string, b []byte) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	fmt.Fprintf(tc.out, "%s %s %d bytes\n%s", dir, tc.Conn.RemoteAddr(), len(b), hex.Dump(b))
}

// NewTraceConn wraps conn so that every chunk read (<) and written (>) is
// hex dumped to w.
func NewTraceConn(conn net.Conn, w io.Writer) net.Conn {
	return &tracedConn{Conn: conn, out: w}
}

// OpenTraceFile opens (or appends to) a trace file for NewTraceConn.
func OpenTraceFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}
	return f, nil
}
