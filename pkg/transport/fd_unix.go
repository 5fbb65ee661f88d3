//go:build unix

package transport

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// fdSocket performs non-blocking I/O directly on the descriptor of a TCP
// connection. The runtime already keeps the descriptor in O_NONBLOCK mode.
type fdSocket struct {
	conn *net.TCPConn
	rc   syscall.RawConn
	fd   int
}

func newFDSocket(conn net.Conn) (Socket, bool) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, false
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return nil, false
	}
	s := &fdSocket{conn: tc, rc: rc, fd: -1}
	if err := rc.Control(func(fd uintptr) { s.fd = int(fd) }); err != nil {
		return nil, false
	}
	return s, true
}

func (s *fdSocket) Recv(p []byte) (int, error) {
	var n int
	var opErr error
	if err := s.rc.Read(func(fd uintptr) bool {
		n, opErr = unix.Read(int(fd), p)
		return true
	}); err != nil {
		return 0, ErrClosed
	}
	switch {
	case opErr != nil:
		return 0, mapErrno(opErr)
	case n == 0 && len(p) > 0:
		return 0, io.EOF
	}
	return n, nil
}

func (s *fdSocket) Send(p []byte) (int, error) {
	var n int
	var opErr error
	if err := s.rc.Write(func(fd uintptr) bool {
		n, opErr = unix.Write(int(fd), p)
		return true
	}); err != nil {
		return 0, ErrClosed
	}
	if opErr != nil {
		return 0, mapErrno(opErr)
	}
	return n, nil
}

func (s *fdSocket) Poll(events Events, timeout time.Duration) (Events, error) {
	var ready Events
	var opErr error
	err := s.rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: pollEvents(events)}}
		if _, opErr = pollRetry(fds, pollMillis(timeout)); opErr != nil {
			return
		}
		ready, opErr = readyEvents(fds[0].Revents, events)
	})
	if err != nil {
		return 0, ErrClosed
	}
	return ready, opErr
}

func (s *fdSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *fdSocket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *fdSocket) Close() error {
	return s.conn.Close()
}

// fdPacketSocket reads datagrams with recvfrom(2) on the descriptor of a UDP
// socket.
type fdPacketSocket struct {
	conn *net.UDPConn
	rc   syscall.RawConn
}

func newFDPacketSocket(pc net.PacketConn) (PacketSocket, bool) {
	uc, ok := pc.(*net.UDPConn)
	if !ok {
		return nil, false
	}
	rc, err := uc.SyscallConn()
	if err != nil {
		return nil, false
	}
	return &fdPacketSocket{conn: uc, rc: rc}, true
}

func (s *fdPacketSocket) RecvFrom(p []byte) (int, net.Addr, error) {
	var n int
	var from unix.Sockaddr
	var opErr error
	if err := s.rc.Read(func(fd uintptr) bool {
		n, from, opErr = unix.Recvfrom(int(fd), p, 0)
		return true
	}); err != nil {
		return 0, nil, ErrClosed
	}
	if opErr != nil {
		return 0, nil, mapErrno(opErr)
	}
	return n, sockaddrToUDP(from), nil
}

func (s *fdPacketSocket) SendTo(p []byte, addr net.Addr) (int, error) {
	return s.conn.WriteTo(p, addr)
}

func (s *fdPacketSocket) Poll(timeout time.Duration) (bool, error) {
	var ready Events
	var opErr error
	err := s.rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		if _, opErr = pollRetry(fds, pollMillis(timeout)); opErr != nil {
			return
		}
		ready, opErr = readyEvents(fds[0].Revents, EventRead)
	})
	if err != nil {
		return false, ErrClosed
	}
	return ready&EventRead != 0, opErr
}

func (s *fdPacketSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *fdPacketSocket) Close() error {
	return s.conn.Close()
}

// pollFDs waits on several fd sockets with a single poll(2) call and returns
// the ready events per socket.
func pollFDs(socks []*fdSocket, events []Events, timeout time.Duration) ([]Events, error) {
	fds := make([]unix.PollFd, len(socks))
	for i, s := range socks {
		fds[i] = unix.PollFd{Fd: int32(s.fd), Events: pollEvents(events[i])}
	}
	if _, err := pollRetry(fds, pollMillis(timeout)); err != nil {
		return nil, err
	}

	ready := make([]Events, len(socks))
	for i := range fds {
		r, err := readyEvents(fds[i].Revents, events[i])
		if err != nil {
			// a closed member is reported as readable so its owner sees the error
			r = events[i] & EventRead
		}
		ready[i] = r
	}
	return ready, nil
}

func asFDSocket(s Socket) (*fdSocket, bool) {
	fs, ok := s.(*fdSocket)
	return fs, ok && fs.fd >= 0
}

func pollRetry(fds []unix.PollFd, ms int) (int, error) {
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

func pollEvents(events Events) int16 {
	var ev int16
	if events&EventRead != 0 {
		ev |= unix.POLLIN
	}
	if events&EventWrite != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func readyEvents(revents int16, want Events) (Events, error) {
	if revents&unix.POLLNVAL != 0 {
		return 0, ErrClosed
	}
	var r Events
	if want&EventRead != 0 && revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
		r |= EventRead
	}
	if want&EventWrite != 0 && revents&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0 {
		r |= EventWrite
	}
	return r, nil
}

func mapErrno(err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
		return ErrWouldBlock
	case errors.Is(err, unix.EBADF):
		return ErrClosed
	}
	return err
}

func sockaddrToUDP(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port}
	}
	return nil
}
