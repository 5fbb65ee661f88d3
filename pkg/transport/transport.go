// Package transport provides the non-blocking socket layer consumed by links,
// sessions, the server and the client. Scheduler tasks must never block on I/O
// for longer than a bounded poll timeout, so every operation here either
// completes immediately or reports ErrWouldBlock.
//
// Stream sockets:
//   - Wrap turns a connected net.Conn into a Socket. On unix, *net.TCPConn is
//     driven directly on its file descriptor (read/write/poll via x/sys/unix).
//     Every other connection (websocket, kcp, quic, in-memory pipes) is staged
//     through a bounded pump with two goroutines that raise a readiness Signal.
//   - PollSet waits for readiness of many sockets with one bounded timeout.
//
// Listening and datagrams:
//   - Acceptor accepts with a timeout. Listeners supporting deadlines (tcp,
//     kcp) are used directly, all others go through a ChanAcceptor.
//   - PacketSocket is the non-blocking datagram endpoint (recvfrom/sendto).
//
// The per-protocol dialers and listeners live in the tcp, ws, kcp and quic
// subpackages.
package transport

import (
	"errors"
	"net"
	"time"
)

var (
	// ErrWouldBlock is returned when an operation cannot make progress now.
	// It is not a failure; retry on the next readiness event.
	ErrWouldBlock = errors.New("operation would block")
	// ErrClosed is returned for operations on a closed socket.
	ErrClosed = errors.New("socket closed")
)

// DefaultPumpSize is the per-direction staging capacity of pump sockets.
const DefaultPumpSize = 8192

// Events is a set of readiness events.
type Events uint8

const (
	// EventRead means Recv will not block: data, EOF or an error is pending.
	EventRead Events = 1 << iota
	// EventWrite means Send will accept at least one byte or report an error.
	EventWrite
)

func (e Events) String() string {
	switch e {
	case 0:
		return "none"
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventRead | EventWrite:
		return "read|write"
	default:
		return "invalid"
	}
}

// Socket is a connected, non-blocking stream socket.
type Socket interface {
	// Recv reads available bytes. It returns ErrWouldBlock if nothing is
	// pending and io.EOF once the peer has closed the connection.
	Recv(p []byte) (int, error)
	// Send writes as many bytes as possible without blocking. A partial
	// count is not an error; ErrWouldBlock means nothing was written.
	Send(p []byte) (int, error)
	// Poll waits up to timeout for any of events and returns the ready ones.
	Poll(events Events, timeout time.Duration) (Events, error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}

// Wrap makes conn non-blocking. sig, if not nil, is notified whenever a pump
// socket changes state; pass the Signal of the PollSet the socket is polled
// with.
func Wrap(conn net.Conn, sig *Signal) Socket {
	if s, ok := newFDSocket(conn); ok {
		return s
	}
	return newPumpSocket(conn, DefaultPumpSize, sig)
}

// Acceptor accepts connections without blocking beyond a timeout.
type Acceptor interface {
	// Accept returns the next connection or ErrWouldBlock if none arrived
	// within timeout.
	Accept(timeout time.Duration) (net.Conn, error)
	Addr() net.Addr
	Close() error
}

// PacketSocket is a non-blocking datagram socket.
type PacketSocket interface {
	// RecvFrom reads one datagram or returns ErrWouldBlock.
	RecvFrom(p []byte) (int, net.Addr, error)
	SendTo(p []byte, addr net.Addr) (int, error)
	// Poll waits up to timeout for a datagram to become readable.
	Poll(timeout time.Duration) (bool, error)
	LocalAddr() net.Addr
	Close() error
}

// WrapPacket makes pc non-blocking. Datagrams larger than maxSize are
// truncated.
func WrapPacket(pc net.PacketConn, maxSize int, sig *Signal) PacketSocket {
	if s, ok := newFDPacketSocket(pc); ok {
		return s
	}
	return newPacketPump(pc, maxSize, defaultPacketBacklog, sig)
}

// pollMillis converts a timeout for poll(2), rounding up so short waits are
// not turned into busy loops.
func pollMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
