package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
)

var exit = os.Exit

// ContextWithShutdown returns a context derived from parent that is cancelled on the first
// SIGINT or SIGTERM. A second signal exits the process. Calling stop releases the signal handler and cancels the context.
func ContextWithShutdown(parent context.Context) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	var once sync.Once
	stop = func() {
		once.Do(func() {
			signal.Stop(signals)
			close(done)
			cancel()
		})
	}

	go func() {
		select {
		case sig := <-signals:
			log.Infof("Received %s, shutting down", sig)
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-signals:
			log.Warnf("Received %s again, exiting", sig)
			exit(1)
		case <-done:
		}
	}()
	return ctx, stop
}
