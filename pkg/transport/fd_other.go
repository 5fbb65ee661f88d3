//go:build !unix

package transport

import (
	"net"
	"time"
)

type fdSocket struct{}

func newFDSocket(net.Conn) (Socket, bool) {
	return nil, false
}

func newFDPacketSocket(net.PacketConn) (PacketSocket, bool) {
	return nil, false
}

func asFDSocket(Socket) (*fdSocket, bool) {
	return nil, false
}

func pollFDs([]*fdSocket, []Events, time.Duration) ([]Events, error) {
	return nil, ErrClosed
}
