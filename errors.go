package modkernel

import "errors"

// Kernel errors
var (
	ErrContextClosed      = errors.New("kernel context is shut down")
	ErrNotAcquired        = errors.New("release without a matching acquire")
	ErrUnknownModuleType  = errors.New("module type not in catalog")
	ErrModuleTypeEmpty    = errors.New("module type name cannot be empty")
	ErrDuplicateModule    = errors.New("module declared more than once in manifest")
	ErrInvalidTimeout     = errors.New("timeout must not be negative")
	ErrInvalidHistorySize = errors.New("history size must not be negative")
	ErrInvalidConcurrency = errors.New("max concurrency must not be negative")
)

// Observer errors
var (
	ErrObserverNil     = errors.New("observer cannot be nil")
	ErrObserverIDEmpty = errors.New("observer id cannot be empty")
)
