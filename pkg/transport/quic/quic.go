// Package quic provides a stream transport over QUIC. Each connection carries
// exactly one bidirectional stream, opened by the dialer.
package quic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/crypto"
	"dominicbreuker/sessnet/pkg/log"
	"dominicbreuker/sessnet/pkg/transport"

	quic "github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated by both ends.
const ALPN = "sessnet"

const (
	errCodeClosed quic.ApplicationErrorCode = 0x23
	errCodeFull   quic.ApplicationErrorCode = 0x24

	// streamInit is written by the dialer so the stream becomes visible to
	// the listener before the first frame.
	streamInit byte = 0x00

	handshakeTimeout = 5 * time.Second
)

func quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: handshakeTimeout,
		MaxIdleTimeout:       30 * time.Second,
		KeepAlivePeriod:      10 * time.Second,
	}
}

// Dial connects to addr and opens the session stream. key, if not empty,
// enables mutual certificate verification.
func Dial(ctx context.Context, addr, key string, timeout time.Duration, deps *config.Dependencies) (net.Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}

	tlsConf, err := crypto.ClientTLSConfig(key, ALPN)
	if err != nil {
		return nil, fmt.Errorf("client TLS config: %w", err)
	}

	packetConnFn := config.GetPacketListenerFunc(deps)
	pc, err := packetConnFn("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("listen(udp, :0): %w", err)
	}
	tr := &quic.Transport{Conn: pc}
	release := func() {
		tr.Close()
		pc.Close()
	}

	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := tr.Dial(dialCtx, raddr, tlsConf, quicConfig())
	if err != nil {
		release()
		return nil, fmt.Errorf("quic.Dial(%s): %w", raddr, err)
	}

	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		conn.CloseWithError(errCodeClosed, "open stream failed")
		release()
		return nil, fmt.Errorf("OpenStreamSync(): %w", err)
	}
	if _, err := stream.Write([]byte{streamInit}); err != nil {
		conn.CloseWithError(errCodeClosed, "stream init failed")
		release()
		return nil, fmt.Errorf("write stream init: %w", err)
	}

	return newStreamConn(conn, stream, release), nil
}

// Listen accepts QUIC connections on addr. Sessions whose stream is ready
// are queued on the returned acceptor, at most queue of them at a time.
func Listen(ctx context.Context, addr, key string, queue int, logger *log.Logger, deps *config.Dependencies) (transport.Acceptor, error) {
	if _, err := net.ResolveUDPAddr("udp", addr); err != nil {
		return nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}

	tlsConf, err := crypto.ServerTLSConfig(key, ALPN)
	if err != nil {
		return nil, fmt.Errorf("server TLS config: %w", err)
	}

	packetConnFn := config.GetPacketListenerFunc(deps)
	pc, err := packetConnFn("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen(udp, %s): %w", addr, err)
	}
	tr := &quic.Transport{Conn: pc}

	ln, err := tr.Listen(tlsConf, quicConfig())
	if err != nil {
		tr.Close()
		pc.Close()
		return nil, fmt.Errorf("quic.Listen(%s): %w", addr, err)
	}

	acc := transport.NewChanAcceptor(ln.Addr(), queue, func() error {
		err := ln.Close()
		tr.Close()
		pc.Close()
		return err
	})

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		acc.Fail(acceptLoop(loopCtx, ln, acc, logger))
	}()
	context.AfterFunc(ctx, func() { acc.Close() })

	return acc, nil
}

func acceptLoop(ctx context.Context, ln *quic.Listener, acc *transport.ChanAcceptor, logger *log.Logger) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return net.ErrClosed
			}
			return fmt.Errorf("Accept(): %w", err)
		}

		go func() {
			sc, err := acceptStream(ctx, conn)
			if err != nil {
				logger.VerboseMsg("QUIC connection from %s dropped: %s", conn.RemoteAddr(), err)
				conn.CloseWithError(errCodeClosed, "no stream")
				return
			}
			if !acc.Offer(sc) {
				conn.CloseWithError(errCodeFull, "accept queue full")
			}
		}()
	}
}

func acceptStream(ctx context.Context, conn *quic.Conn) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("AcceptStream(): %w", err)
	}

	stream.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var init [1]byte
	if _, err := io.ReadFull(stream, init[:]); err != nil {
		return nil, fmt.Errorf("read stream init: %w", err)
	}
	if init[0] != streamInit {
		return nil, fmt.Errorf("unexpected stream init byte %#x", init[0])
	}
	stream.SetReadDeadline(time.Time{})

	return newStreamConn(conn, stream, nil), nil
}
