package tcp

import (
	"context"
	"fmt"
	"net"

	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/transport"
)

// Listen opens a TCP listener on addr. The returned acceptor is closed when
// ctx is cancelled.
func Listen(ctx context.Context, addr string, deps *config.Dependencies) (transport.Acceptor, error) {
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return nil, fmt.Errorf("net.ResolveTCPAddr(tcp, %s): %w", addr, err)
	}

	listenFn := config.GetTCPListenerFunc(deps)
	ln, err := listenFn(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen(tcp, %s): %w", addr, err)
	}

	acc := transport.NewListenerAcceptor(ln, nil)
	context.AfterFunc(ctx, func() { acc.Close() })
	return acc, nil
}
