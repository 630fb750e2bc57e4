package module

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Module errors
var (
	// Configuration errors
	ErrModuleNameEmpty     = errors.New("module name cannot be empty")
	ErrInvalidVersion      = errors.New("version is not a valid semantic version")
	ErrUnknownPriority     = errors.New("unknown priority")
	ErrSelfDependency      = errors.New("module cannot depend on itself")
	ErrDuplicateDependency = errors.New("duplicate dependency")
	ErrEnvVarMissing       = errors.New("required environment variable not set")

	// Dependency errors
	ErrDependencyNotRegistered   = errors.New("dependency type not registered")
	ErrDependencyNotInstantiated = errors.New("dependency not instantiated")
	ErrCircularDependency        = errors.New("circular dependency detected")
	ErrDependencyMissing         = errors.New("module depends on non-existent module")

	// Lifecycle errors
	ErrInvalidState = errors.New("operation not allowed in current state")

	// Timeouts
	ErrTimeout = errors.New("operation timed out")
)

// ConfigurationError aggregates every validation failure of one config.
type ConfigurationError struct {
	Module string
	Errors []error
}

func (e *ConfigurationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	if e.Module == "" {
		return "invalid module configuration: " + strings.Join(msgs, "; ")
	}
	return fmt.Sprintf("invalid configuration for module %q: %s", e.Module, strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *ConfigurationError) Unwrap() []error { return e.Errors }

// DependencyError reports a missing, uninstantiated or circular dependency.
// Chain holds the offending path, e.g. [a b a] for a cycle.
type DependencyError struct {
	Module     string
	Dependency string
	Chain      []string
	Err        error
}

func (e *DependencyError) Error() string {
	switch {
	case len(e.Chain) > 0:
		return fmt.Sprintf("module %q: %v: %s", e.Module, e.Err, strings.Join(e.Chain, " -> "))
	case e.Dependency != "":
		return fmt.Sprintf("module %q: %v: %s", e.Module, e.Err, e.Dependency)
	default:
		return fmt.Sprintf("module %q: %v", e.Module, e.Err)
	}
}

func (e *DependencyError) Unwrap() error { return e.Err }

// LifecycleError reports an operation attempted from a disallowed state.
type LifecycleError struct {
	Module    string
	Operation string
	State     State
	Allowed   []State
}

func (e *LifecycleError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("cannot %s module %q in state %s", e.Operation, e.Module, e.State)
	}
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("cannot %s module %q in state %s (requires %s)",
		e.Operation, e.Module, e.State, strings.Join(allowed, " or "))
}

func (e *LifecycleError) Unwrap() error { return ErrInvalidState }

// ModuleError wraps an arbitrary failure raised by module code.
type ModuleError struct {
	Module    string
	Operation string
	Code      string
	Err       error
}

func (e *ModuleError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("module %q: %v", e.Module, e.Err)
	}
	return fmt.Sprintf("module %q: %s failed: %v", e.Module, e.Operation, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }

// TimeoutError reports an operation that exceeded its bound. The underlying
// operation may still be running.
type TimeoutError struct {
	Module    string
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("%s timed out after %s", e.Operation, e.Timeout)
	}
	return fmt.Sprintf("module %q: %s timed out after %s", e.Module, e.Operation, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Wrap returns err as a *ModuleError for the given module and operation,
// leaving kernel error types untouched. Non-error panics are normalized
// by the caller before reaching here.
func Wrap(name, op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		cfgErr  *ConfigurationError
		depErr  *DependencyError
		lcErr   *LifecycleError
		modErr  *ModuleError
		timeErr *TimeoutError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &depErr), errors.As(err, &lcErr),
		errors.As(err, &modErr), errors.As(err, &timeErr):
		return err
	}
	return &ModuleError{Module: name, Operation: op, Err: err}
}

// PanicError converts a recovered panic value into an error.
func PanicError(recovered any) error {
	if err, ok := recovered.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", recovered)
}
