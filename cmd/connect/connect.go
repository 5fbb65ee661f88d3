// Package connect implements the connect command, which sends input lines
// to a server and prints the echoes.
package connect

import (
	"context"
	"time"

	"dominicbreuker/sessnet/cmd/shared"
	"dominicbreuker/sessnet/pkg/client"
	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/handler/connect"
	"dominicbreuker/sessnet/pkg/terminal"

	"github.com/urfave/cli/v3"
)

// lingerTime is how long echoes are awaited after the input ended.
const lingerTime = 500 * time.Millisecond

// GetCommand returns the CLI command for connect mode.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "connect",
		Usage:       "Connect to a server and send it lines from stdin",
		Description: shared.GetBaseDescription(),
		ArgsUsage:   shared.GetArgsUsage(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			file, err := shared.LoadFile(cmd)
			if err != nil {
				return err
			}

			cfg, cleanup, err := shared.NewShared(cmd, file, file.Client.UDPPort)
			if err != nil {
				return err
			}
			defer cleanup()

			cliCfg := &config.Client{
				PingInterval:   shared.DurationOr(cmd, shared.PingFlag, file.Client.Ping),
				ReconnectDelay: shared.DurationOr(cmd, shared.ReconnectDelayFlag, file.Client.ReconnectDelay),
				NoReconnect:    shared.BoolOr(cmd, shared.NoReconnectFlag, file.Client.NoReconnect),
			}

			if err := shared.ReportErrors(cfg.Logger, config.Validate(cfg, cliCfg)); err != nil {
				return err
			}

			return Run(ctx, cfg, cliCfg)
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetConnectFlags()...)

	return flags
}

// Run connects and forwards input lines until the input ends or ctx is
// done.
func Run(ctx context.Context, cfg *config.Shared, cliCfg *config.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stdin := config.GetStdinFunc(cfg.Deps)()
	stdout := config.GetStdoutFunc(cfg.Deps)()

	h := connect.New(cfg.Logger, stdout)
	cb := h.Callbacks()
	if cliCfg.NoReconnect {
		onFailed, onDisconnected := cb.OnConnectionFailed, cb.OnDisconnected
		cb.OnConnectionFailed = func(c *client.Client, err error) {
			onFailed(c, err)
			cancel()
		}
		cb.OnDisconnected = func(c *client.Client, reason client.Reason) {
			onDisconnected(c, reason)
			cancel()
		}
	}

	c := client.New(cfg, cliCfg, cb)
	h.Bind(c)
	c.Start(ctx)
	defer c.Close()

	c.Connect()
	awaitConnected(ctx, c, cfg.GetTimeout())

	if err := terminal.ReadLines(ctx, stdin, stdout, h.HandleLine); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-time.After(lingerTime):
	}
	return nil
}

func awaitConnected(ctx context.Context, c *client.Client, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for !c.IsConnected() && time.Now().Before(deadline) && ctx.Err() == nil {
		time.Sleep(10 * time.Millisecond)
	}
}
