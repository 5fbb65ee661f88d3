// Package net establishes the two channels of a session: the stream
// connection over the configured transport and the UDP datagram socket.
package net

import (
	"context"
	"fmt"
	"net"
	"time"

	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/log"
	"dominicbreuker/sessnet/pkg/transport/kcp"
	"dominicbreuker/sessnet/pkg/transport/quic"
	"dominicbreuker/sessnet/pkg/transport/tcp"
	"dominicbreuker/sessnet/pkg/transport/ws"
)

// dialDependencies holds injectable dependencies for testing.
type dialDependencies struct {
	dialTCP  func(ctx context.Context, addr string, timeout time.Duration, deps *config.Dependencies) (net.Conn, error)
	dialWS   func(ctx context.Context, addr string, timeout time.Duration, deps *config.Dependencies) (net.Conn, error)
	dialKCP  func(ctx context.Context, addr string, timeout time.Duration, deps *config.Dependencies) (net.Conn, error)
	dialQUIC func(ctx context.Context, addr, key string, timeout time.Duration, deps *config.Dependencies) (net.Conn, error)
}

// Dial connects the stream channel to cfg.Addr() using cfg.Protocol.
// Connection establishment is bounded by cfg.GetTimeout().
func Dial(ctx context.Context, cfg *config.Shared) (net.Conn, error) {
	deps := &dialDependencies{
		dialTCP:  tcp.Dial,
		dialWS:   ws.Dial,
		dialKCP:  kcp.Dial,
		dialQUIC: quic.Dial,
	}
	return dial(ctx, cfg, deps)
}

func dial(ctx context.Context, cfg *config.Shared, deps *dialDependencies) (net.Conn, error) {
	addr := cfg.Addr()
	timeout := cfg.GetTimeout()

	cfg.Logger.VerboseMsg("Dialing %s://%s", cfg.Protocol, addr)

	var (
		conn net.Conn
		err  error
	)
	switch cfg.Protocol {
	case config.ProtoWS:
		conn, err = deps.dialWS(ctx, addr, timeout, cfg.Deps)
	case config.ProtoKCP:
		conn, err = deps.dialKCP(ctx, addr, timeout, cfg.Deps)
	case config.ProtoQUIC:
		conn, err = deps.dialQUIC(ctx, addr, cfg.GetKey(), timeout, cfg.Deps)
	case config.ProtoTCP:
		conn, err = deps.dialTCP(ctx, addr, timeout, cfg.Deps)
	default:
		return nil, fmt.Errorf("unsupported protocol %d", int(cfg.Protocol))
	}
	if err != nil {
		cfg.Logger.VerboseMsg("Connection failed: %v", err)
		return nil, fmt.Errorf("dial %s://%s: %w", cfg.Protocol, addr, err)
	}

	// Clear any deadlines set by the dialer to ensure healthy connection
	_ = conn.SetDeadline(time.Time{})

	cfg.Logger.VerboseMsg("Connection to %s established", conn.RemoteAddr())
	if cfg.TraceOut != nil {
		conn = log.NewTraceConn(conn, cfg.TraceOut)
	}
	return conn, nil
}
