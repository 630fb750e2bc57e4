package eventbus

import (
	"errors"
	"fmt"
)

// EventBus errors
var (
	ErrEmptyEventType = errors.New("event type cannot be empty")
	ErrNilHandler     = errors.New("event handler cannot be nil")
	ErrNilMiddleware  = errors.New("middleware cannot be nil")
	ErrBusShutdown    = errors.New("event bus is shut down")
	ErrPublishTimeout = errors.New("publish timed out")
	ErrHandlerTimeout = errors.New("handler timed out")
)

// HandlerError is returned from Publish when a handler still fails after
// its last attempt.
type HandlerError struct {
	SubscriptionID string
	EventType      string
	Attempts       int
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for %q failed after %d attempts: %v", e.SubscriptionID, e.EventType, e.Attempts, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
