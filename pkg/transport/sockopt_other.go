//go:build !unix

package transport

import "syscall"

// ControlStream is a no-op on this platform; the runtime defaults apply.
func ControlStream(network, address string, c syscall.RawConn) error {
	return nil
}

// ControlPacket is a no-op on this platform.
func ControlPacket(network, address string, c syscall.RawConn) error {
	return nil
}
