package registry

import (
	"errors"
	"fmt"

	"github.com/GoCodeAlone/modkernel/module"
)

// Static errors for registry package
var (
	ErrModuleNotFound          = errors.New("module not found")
	ErrModuleTypeExists        = errors.New("module type already registered")
	ErrModuleTypeNotRegistered = errors.New("module type not registered")
	ErrConstructorNil          = errors.New("module constructor cannot be nil")
	ErrConstructorReturnedNil  = errors.New("module constructor returned nil instance")
	ErrShuttingDown            = errors.New("registry is shutting down")
	ErrRegistryClosed          = errors.New("registry is shut down")
	ErrHotReloadUnsupported    = errors.New("module does not support hot reload")
	ErrInvalidInterval         = errors.New("health check interval must be > 0")
)

// Error codes carried by *module.ModuleError values raised by the registry.
const (
	CodeNotFound          = "MODULE_NOT_FOUND"
	CodeTypeNotRegistered = "MODULE_TYPE_NOT_REGISTERED"
	CodeShuttingDown      = "REGISTRY_SHUTTING_DOWN"
	CodeHotReload         = "HOT_RELOAD_UNSUPPORTED"
	CodeConstructor       = "CONSTRUCTOR_FAILED"
)

func notFound(name, op string) error {
	return &module.ModuleError{Module: name, Operation: op, Code: CodeNotFound, Err: ErrModuleNotFound}
}

func alreadyInstalled(name string, state module.State) error {
	return &module.LifecycleError{
		Module:    name,
		Operation: module.OpInstall,
		State:     state,
		Allowed:   []module.State{module.StateUninstalled},
	}
}

func busy(name, op string, state module.State) error {
	return &module.LifecycleError{Module: name, Operation: op, State: state}
}

func shuttingDown(name, op string) error {
	return &module.ModuleError{Module: name, Operation: op, Code: CodeShuttingDown, Err: ErrShuttingDown}
}

func typeNotRegistered(name string) error {
	return &module.ModuleError{
		Module:    name,
		Operation: module.OpInstall,
		Code:      CodeTypeNotRegistered,
		Err:       fmt.Errorf("%w: %s", ErrModuleTypeNotRegistered, name),
	}
}
