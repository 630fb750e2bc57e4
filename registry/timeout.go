package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/GoCodeAlone/modkernel/module"
)

// CallWithTimeout runs fn in its own goroutine and races it against
// timeout. When the timer wins, the context passed to fn is cancelled and
// a *module.TimeoutError is returned right away; fn is not waited for and
// may still finish in the background.
func CallWithTimeout(ctx context.Context, timeout time.Duration, name, op string, fn func(context.Context) error) error {
	if timeout <= 0 {
		return protect(ctx, fn)
	}

	callCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- protect(callCtx, fn) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		cancel()
		return err
	case <-timer.C:
		cancel()
		return &module.TimeoutError{Module: name, Operation: op, Timeout: timeout}
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("%s %q: %w", op, name, ctx.Err())
	}
}

// protect converts a panic in fn into an error.
func protect(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = module.PanicError(r)
		}
	}()
	return fn(ctx)
}
