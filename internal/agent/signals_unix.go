//go:build !windows

package agent

import (
	"context"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// WatchSignals maps SIGHUP to a session restart and SIGUSR1 to a session
// end until ctx is done. Process exit signals are left to the caller.
func WatchSignals(ctx context.Context, log logrus.FieldLogger, a Agent, restartLabel string) {
	log = log.WithField("component", "signals")

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGHUP, unix.SIGUSR1)

	go func() {
		defer signal.Stop(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				handleSignal(ctx, log, a, sig == unix.SIGHUP, restartLabel)
			}
		}
	}()
}
