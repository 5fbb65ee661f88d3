// Package kcp provides a reliable stream transport over UDP using KCP.
package kcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/transport"

	kcp "github.com/xtaci/kcp-go/v5"
)

// configure sets the session options used on both ends.
// SetNoDelay(nodelay, interval, resend, nc): no delay, 10ms update interval,
// fast resend after 2 duplicate ACKs, congestion control off.
func configure(s *kcp.UDPSession) {
	s.SetNoDelay(1, 10, 2, 1)
	s.SetStreamMode(true)
	s.SetWindowSize(1024, 1024)
}

// conn owns the packet connection of a dialed session, which kcp leaves
// open when the session is closed.
type conn struct {
	*kcp.UDPSession
	pc net.PacketConn
}

func (c *conn) Close() error {
	err := c.UDPSession.Close()
	c.pc.Close()
	return err
}

// Dial establishes a KCP session to addr. KCP has no handshake; timeout only
// bounds resolution and socket creation.
func Dial(ctx context.Context, addr string, timeout time.Duration, deps *config.Dependencies) (net.Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	packetConnFn := config.GetPacketListenerFunc(deps)
	pc, err := packetConnFn("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("listen(udp, :0): %w", err)
	}

	// Parameters: remoteAddr, block cipher (nil for no encryption), dataShards (0), parityShards (0), conn
	s, err := kcp.NewConn(raddr.String(), nil, 0, 0, pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("kcp.NewConn(%s): %w", raddr, err)
	}
	configure(s)

	return &conn{UDPSession: s, pc: pc}, nil
}

// Listen serves KCP sessions on addr. The acceptor is closed when ctx is
// cancelled.
func Listen(ctx context.Context, addr string, deps *config.Dependencies) (transport.Acceptor, error) {
	if _, err := net.ResolveUDPAddr("udp", addr); err != nil {
		return nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}

	packetConnFn := config.GetPacketListenerFunc(deps)
	pc, err := packetConnFn("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen(udp, %s): %w", addr, err)
	}

	// Parameters: block cipher (nil for no encryption), dataShards (0), parityShards (0), conn
	ln, err := kcp.ServeConn(nil, 0, 0, pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("kcp.ServeConn(): %w", err)
	}

	acc := transport.NewListenerAcceptor(&listener{Listener: ln, pc: pc}, func(c net.Conn) error {
		s, ok := c.(*kcp.UDPSession)
		if !ok {
			return fmt.Errorf("unexpected connection type %T", c)
		}
		configure(s)
		return nil
	})
	context.AfterFunc(ctx, func() { acc.Close() })
	return acc, nil
}

// listener closes the packet connection it was served on.
type listener struct {
	*kcp.Listener
	pc net.PacketConn
}

func (l *listener) Close() error {
	err := l.Listener.Close()
	l.pc.Close()
	return err
}
