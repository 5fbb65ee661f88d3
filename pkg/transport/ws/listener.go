package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/log"
	"dominicbreuker/sessnet/pkg/transport"

	"github.com/coder/websocket"
)

// Listen serves websocket upgrades on addr and returns an acceptor for the
// upgraded connections. At most queue connections wait for Accept; further
// requests are answered with 503. Cancelling ctx closes the server and all
// connections that were not accepted yet.
func Listen(ctx context.Context, addr string, queue int, logger *log.Logger, deps *config.Dependencies) (transport.Acceptor, error) {
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return nil, fmt.Errorf("net.ResolveTCPAddr(tcp, %s): %w", addr, err)
	}

	listenFn := config.GetTCPListenerFunc(deps)
	nl, err := listenFn(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen(tcp, %s): %w", addr, err)
	}

	if queue < 1 {
		queue = config.DefaultAcceptQueue
	}

	var server *http.Server
	acc := transport.NewChanAcceptor(nl.Addr(), queue, func() error {
		return server.Close()
	})
	server = createHTTPServer(ctx, acc, logger)

	go func() {
		if err := serveWithContext(ctx, server, nl); err != nil {
			logger.ErrorMsg("websocket server on %s: %s\n", nl.Addr(), err)
			acc.Fail(err)
			return
		}
		acc.Fail(net.ErrClosed)
	}()

	return acc, nil
}

// createHTTPServer creates an HTTP server that upgrades connections to WebSocket.
func createHTTPServer(ctx context.Context, acc *transport.ChanAcceptor, logger *log.Logger) *http.Server {
	return &http.Server{
		Handler: createWebSocketHandler(ctx, acc, logger),

		// Timeouts for long-lived connections
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}
}

// createWebSocketHandler creates an HTTP handler that upgrades to WebSocket
// and queues the connection on acc.
func createWebSocketHandler(ctx context.Context, acc *transport.ChanAcceptor, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// reject before upgrading if nobody will pick the connection up
		if acc.Len() >= acc.Cap() {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{subprotocol},
		})
		if err != nil {
			logger.ErrorMsg("websocket.Accept(): %s\n", err)
			return
		}
		c.SetReadLimit(int64(config.DefaultStreamBufferSize) * 4)

		// the connection outlives the request, so it is bound to the listener context
		conn := websocket.NetConn(ctx, c, websocket.MessageBinary)
		logger.VerboseMsg("New WS connection from %s\n", conn.RemoteAddr())

		if !acc.Offer(conn) {
			c.Close(websocket.StatusTryAgainLater, "accept queue full")
		}
	}
}

// serveWithContext runs the HTTP server until ctx is cancelled or it fails.
func serveWithContext(ctx context.Context, server *http.Server, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		_ = server.Close()
		err := <-errCh
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving after cancellation: %w", err)

	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http.Server.Serve(): %w", err)
	}
}
