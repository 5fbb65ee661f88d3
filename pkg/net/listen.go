package net

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/log"
	"dominicbreuker/sessnet/pkg/transport"
	"dominicbreuker/sessnet/pkg/transport/kcp"
	"dominicbreuker/sessnet/pkg/transport/quic"
	"dominicbreuker/sessnet/pkg/transport/tcp"
	"dominicbreuker/sessnet/pkg/transport/ws"
)

// listenDependencies holds injectable dependencies for testing.
type listenDependencies struct {
	listenTCP  func(ctx context.Context, addr string, deps *config.Dependencies) (transport.Acceptor, error)
	listenWS   func(ctx context.Context, addr string, queue int, logger *log.Logger, deps *config.Dependencies) (transport.Acceptor, error)
	listenKCP  func(ctx context.Context, addr string, deps *config.Dependencies) (transport.Acceptor, error)
	listenQUIC func(ctx context.Context, addr, key string, queue int, logger *log.Logger, deps *config.Dependencies) (transport.Acceptor, error)
}

// Listen opens the stream acceptor on cfg.Addr(). Transports that accept in
// the background hold at most queue pending connections. The acceptor is
// closed when ctx is cancelled.
func Listen(ctx context.Context, cfg *config.Shared, queue int) (transport.Acceptor, error) {
	deps := &listenDependencies{
		listenTCP:  tcp.Listen,
		listenWS:   ws.Listen,
		listenKCP:  kcp.Listen,
		listenQUIC: quic.Listen,
	}
	return listen(ctx, cfg, queue, deps)
}

func listen(ctx context.Context, cfg *config.Shared, queue int, deps *listenDependencies) (transport.Acceptor, error) {
	addr := cfg.Addr()
	if queue <= 0 {
		queue = config.DefaultAcceptQueue
	}

	cfg.Logger.VerboseMsg("Creating listener for protocol %s at %s", cfg.Protocol, addr)

	var (
		acc transport.Acceptor
		err error
	)
	switch cfg.Protocol {
	case config.ProtoWS:
		acc, err = deps.listenWS(ctx, addr, queue, cfg.Logger, cfg.Deps)
	case config.ProtoKCP:
		acc, err = deps.listenKCP(ctx, addr, cfg.Deps)
	case config.ProtoQUIC:
		acc, err = deps.listenQUIC(ctx, addr, cfg.GetKey(), queue, cfg.Logger, cfg.Deps)
	case config.ProtoTCP:
		acc, err = deps.listenTCP(ctx, addr, cfg.Deps)
	default:
		return nil, fmt.Errorf("unsupported protocol %d", int(cfg.Protocol))
	}
	if err != nil {
		cfg.Logger.VerboseMsg("Failed to create %s listener: %v", cfg.Protocol, err)
		return nil, fmt.Errorf("listen %s://%s: %w", cfg.Protocol, addr, err)
	}

	cfg.Logger.InfoMsg("Listening on %s://%s\n", cfg.Protocol, acc.Addr())
	if cfg.TraceOut != nil {
		acc = &tracedAcceptor{Acceptor: acc, out: cfg.TraceOut}
	}
	return acc, nil
}

// tracedAcceptor hex dumps the traffic of every accepted connection.
type tracedAcceptor struct {
	transport.Acceptor
	out io.Writer
}

func (a *tracedAcceptor) Accept(timeout time.Duration) (net.Conn, error) {
	conn, err := a.Acceptor.Accept(timeout)
	if err != nil {
		return nil, err
	}
	return log.NewTraceConn(conn, a.out), nil
}
