package net

import (
	"fmt"
	"net"

	"dominicbreuker/sessnet/pkg/config"
)

// ListenDatagram binds the server's datagram socket on cfg.DatagramAddr().
func ListenDatagram(cfg *config.Shared) (net.PacketConn, error) {
	addr := cfg.DatagramAddr()
	if _, err := net.ResolveUDPAddr("udp", addr); err != nil {
		return nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}

	listenPacket := config.GetPacketListenerFunc(cfg.Deps)
	pc, err := listenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen(udp, %s): %w", addr, err)
	}

	cfg.Logger.VerboseMsg("Datagram channel bound to %s", pc.LocalAddr())
	return pc, nil
}

// DialDatagram binds an ephemeral datagram socket for a client and resolves
// the server's datagram address. The server must be reachable on the same
// IP as the stream connection, it drops datagrams from any other source.
func DialDatagram(cfg *config.Shared) (net.PacketConn, *net.UDPAddr, error) {
	addr := cfg.DatagramAddr()
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}

	local := ":0"
	if raddr.IP != nil && raddr.IP.IsLoopback() {
		local = net.JoinHostPort(raddr.IP.String(), "0")
	}

	listenPacket := config.GetPacketListenerFunc(cfg.Deps)
	pc, err := listenPacket("udp", local)
	if err != nil {
		return nil, nil, fmt.Errorf("listen(udp, %s): %w", local, err)
	}

	return pc, raddr, nil
}
