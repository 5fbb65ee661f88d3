// Package ws provides the websocket stream transport. Frames are carried as
// binary websocket messages; the listener is a plain HTTP server upgrading
// every request.
package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"dominicbreuker/sessnet/pkg/config"

	"github.com/coder/websocket"
)

const subprotocol = "bin"

// Dial opens a websocket to ws://addr. The handshake is bounded by timeout;
// the connection itself lives until ctx is done or it is closed.
func Dial(ctx context.Context, addr string, timeout time.Duration, deps *config.Dependencies) (net.Conn, error) {
	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	url := fmt.Sprintf("ws://%s", addr)
	dialFn := config.GetTCPDialerFunc(deps)
	opts := &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				DialContext: dialFn,
			},
		},
	}

	c, _, err := websocket.Dial(dialCtx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("websocket.Dial(%s): %w", url, err)
	}
	c.SetReadLimit(int64(config.DefaultStreamBufferSize) * 4)

	return websocket.NetConn(ctx, c, websocket.MessageBinary), nil
}
