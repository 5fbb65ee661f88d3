package shared

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"
)

// shutdownGrace is how long a graceful shutdown may take before the process
// exits anyway.
const shutdownGrace = 5 * time.Second

func terminationSignals() []os.Signal {
	if runtime.GOOS == "windows" {
		return []os.Signal{os.Interrupt}
	}
	// a peer closing the connection must not kill the process
	signal.Ignore(syscall.SIGPIPE)
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}
}

// SetupSignalHandling cancels the context on the first termination signal.
// Servers and clients then disconnect their sessions. A second signal, or a
// shutdown exceeding shutdownGrace, exits immediately with 128+signal.
func SetupSignalHandling(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, terminationSignals()...)

	go func() {
		first := <-sigCh
		cancel()

		select {
		case <-sigCh:
		case <-time.After(shutdownGrace):
		}
		os.Exit(exitCode(first))
	}()
}

func exitCode(s os.Signal) int {
	if ss, ok := s.(syscall.Signal); ok {
		return 128 + int(ss)
	}
	return 1
}
