package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler returns a context that is cancelled on SIGINT/SIGTERM.
// A second signal exits immediately.
func SetupSignalHandler(w io.Writer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			fmt.Fprintf(w, "\nReceived %s, shutting down (running tasks are stopped)...\n", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
			return
		}

		sig := <-sigChan
		fmt.Fprintf(w, "\nReceived %s again, forcing exit\n", sig)
		os.Exit(1)
	}()

	return ctx, cancel
}
