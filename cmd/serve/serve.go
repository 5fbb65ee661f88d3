// Package serve implements the serve command, which runs a server echoing
// every payload back to its sender.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"dominicbreuker/sessnet/cmd/shared"
	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/handler/serve"
	"dominicbreuker/sessnet/pkg/metrics"
	"dominicbreuker/sessnet/pkg/server"

	"github.com/urfave/cli/v3"
)

// GetCommand returns the CLI command for serve mode.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "Accept clients and echo their payloads",
		Description: shared.GetBaseDescription(),
		ArgsUsage:   shared.GetArgsUsage(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			file, err := shared.LoadFile(cmd)
			if err != nil {
				return err
			}

			cfg, cleanup, err := shared.NewShared(cmd, file, file.Server.UDPPort)
			if err != nil {
				return err
			}
			defer cleanup()

			srvCfg := &config.Server{
				MaxClients:     shared.IntOr(cmd, shared.MaxClientsFlag, file.Server.MaxClients),
				ReceiveTimeout: shared.DurationOr(cmd, shared.ReceiveTimeoutFlag, file.Server.ReceiveTimeout),
				EpochInterval:  shared.DurationOr(cmd, shared.EpochIntervalFlag, file.Server.EpochInterval),
				MetricsAddr:    shared.StringOr(cmd, shared.MetricsFlag, file.Server.Metrics),
			}

			if err := shared.ReportErrors(cfg.Logger, config.Validate(cfg, srvCfg)); err != nil {
				return err
			}

			return Run(ctx, cfg, srvCfg)
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetServeFlags()...)

	return flags
}

// Run serves until ctx is done.
func Run(ctx context.Context, cfg *config.Shared, srvCfg *config.Server) error {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	if srvCfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg, srvCfg.MetricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	h := serve.New(cfg.Logger)
	srv := server.New(cfg, srvCfg, h.Callbacks())
	h.Bind(srv)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	cfg.Logger.InfoMsg("Serving %s://%s (datagrams on %s)", cfg.Protocol, srv.Addr(), srv.DatagramAddr())

	<-ctx.Done()
	cfg.Logger.InfoMsg("Shutting down, %d payloads echoed", h.Payloads())
	return srv.Close()
}

func serveMetrics(cfg *config.Shared, addr string) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", cfg.Metrics.Handler())
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()

	select {
	case err := <-errCh:
		return nil, fmt.Errorf("metrics listener on %s: %w", addr, err)
	case <-time.After(50 * time.Millisecond):
	}
	cfg.Logger.VerboseMsg("Metrics on http://%s/metrics", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := hs.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cfg.Logger.ErrorMsg("metrics shutdown: %s", err)
		}
	}, nil
}
