// Package shutdown turns SIGINT and SIGTERM into context cancellation.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/book-expert/logger"
)

const logFmtSignal = "Received %s: no new files will be started, in-flight work is finishing. " +
	"Send the signal again to exit immediately."

// WithSignals returns a context that is cancelled on the first SIGINT or
// SIGTERM. The default handlers are restored at that point, so a second
// signal terminates the process. stop releases the handlers and cancels the
// context; it is safe to call more than once.
func WithSignals(parent context.Context, log *logger.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		defer signal.Stop(signals)

		select {
		case sig := <-signals:
			signal.Stop(signals)
			log.Warn(logFmtSignal, sig)
			cancel()
		case <-ctx.Done():
		case <-done:
		}
	}()

	stop := sync.OnceFunc(func() {
		close(done)
		cancel()
	})

	return ctx, stop
}
