// Package tcp provides the plain TCP stream transport.
package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"dominicbreuker/sessnet/pkg/config"
)

// Dial connects to addr within timeout. Connections from the default dialer
// carry the stream socket options (no-delay, keep-alive, linger).
func Dial(ctx context.Context, addr string, timeout time.Duration, deps *config.Dependencies) (net.Conn, error) {
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return nil, fmt.Errorf("net.ResolveTCPAddr(tcp, %s): %w", addr, err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dialFn := config.GetTCPDialerFunc(deps)
	conn, err := dialFn(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial(tcp, %s): %w", addr, err)
	}

	return conn, nil
}
