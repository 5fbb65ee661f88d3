package main

import (
	"context"
	"fmt"
	"os"

	"dominicbreuker/sessnet/cmd/connect"
	"dominicbreuker/sessnet/cmd/serve"
	"dominicbreuker/sessnet/cmd/shared"
	"dominicbreuker/sessnet/cmd/version"

	"github.com/urfave/cli/v3"
)

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessnet",
		Usage: "session server and client over a stream and a datagram channel",
		Commands: []*cli.Command{
			serve.GetCommand(),
			connect.GetCommand(),
			version.GetCommand(),
		},
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shared.SetupSignalHandling(cancel)

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[!] Error: %s\n", err)
		os.Exit(1)
	}
}
