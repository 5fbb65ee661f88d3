//go:build unix

package transport

import (
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ControlStream sets the stream socket options: no-delay, reuse-address,
// keep-alive, abortive close on teardown and dual-stack for IPv6. It is meant
// for net.Dialer.Control and net.ListenConfig.Control.
func ControlStream(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		s := int(fd)
		if opErr = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); opErr != nil {
			return
		}
		if opErr = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); opErr != nil {
			return
		}
		if opErr = unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); opErr != nil {
			return
		}
		if opErr = unix.SetsockoptLinger(s, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0}); opErr != nil {
			return
		}
		opErr = dualStack(s, network)
	})
	if err != nil {
		return err
	}
	return opErr
}

// ControlPacket sets reuse-address and dual-stack on datagram sockets.
func ControlPacket(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		s := int(fd)
		if opErr = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); opErr != nil {
			return
		}
		opErr = dualStack(s, network)
	})
	if err != nil {
		return err
	}
	return opErr
}

func dualStack(fd int, network string) error {
	if !strings.HasSuffix(network, "6") {
		return nil
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
}
