package modkernel

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultSignalShutdownTimeout bounds the shutdown triggered by SIGTERM or
// SIGINT.
const DefaultSignalShutdownTimeout = time.Minute

// SignalOption customizes AttachSignalHandlers.
type SignalOption func(*signalConfig)

type signalConfig struct {
	exit            func(code int)
	shutdownTimeout time.Duration
}

// WithExitFunc replaces os.Exit as the function called after a signal
// triggered shutdown. Exit code 1 reports a failed shutdown.
func WithExitFunc(exit func(code int)) SignalOption {
	return func(c *signalConfig) { c.exit = exit }
}

// WithSignalShutdownTimeout bounds the signal triggered shutdown.
func WithSignalShutdownTimeout(d time.Duration) SignalOption {
	return func(c *signalConfig) { c.shutdownTimeout = d }
}

// AttachSignalHandlers makes SIGTERM and SIGINT shut kctx down and exit,
// and SIGHUP run a restart sequence. Handling stops when ctx is done or
// the returned detach function is called.
func AttachSignalHandlers(ctx context.Context, kctx *Context, opts ...SignalOption) (detach func()) {
	cfg := signalConfig{exit: os.Exit, shutdownTimeout: DefaultSignalShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case sig := <-sigs:
				logger := kctx.Logger()
				if sig == syscall.SIGHUP {
					logger.Info("Received signal, restarting modules", "signal", sig.String())
					res := kctx.Lifecycle().RestartSequence(ctx, kctx.Config().lifecycleOptions()...)
					if err := res.Err(); err != nil {
						logger.Error("Restart after signal failed", "error", err)
					}
					continue
				}

				logger.Info("Received signal, shutting down", "signal", sig.String())
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.shutdownTimeout)
				err := kctx.Shutdown(shutdownCtx)
				cancel()
				code := 0
				if err != nil {
					code = 1
				}
				cfg.exit(code)
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(stop)
			wg.Wait()
		})
	}
}
