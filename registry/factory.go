package registry

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/GoCodeAlone/modkernel/module"
)

// Factory holds registered module types and the instances built from them.
type Factory struct {
	mu        sync.RWMutex
	types     map[string]moduleType
	instances map[string]module.Instance
}

type moduleType struct {
	constructor  module.Constructor
	version      string
	registeredAt time.Time
}

// TypeInfo describes a registered module type.
type TypeInfo struct {
	Name         string
	Version      string
	RegisteredAt time.Time
	Instantiated bool
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{
		types:     make(map[string]moduleType),
		instances: make(map[string]module.Instance),
	}
}

// Register adds a module type.
func (f *Factory) Register(name string, constructor module.Constructor, version string) error {
	if name == "" {
		return module.ErrModuleNameEmpty
	}
	if constructor == nil {
		return fmt.Errorf("module type %q: %w", name, ErrConstructorNil)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.types[name]; exists {
		return fmt.Errorf("module type %q: %w", name, ErrModuleTypeExists)
	}
	f.types[name] = moduleType{constructor: constructor, version: version, registeredAt: time.Now()}
	return nil
}

// Create builds the instance for cfg. Every declared dependency must be a
// registered type with a live instance.
func (f *Factory) Create(cfg module.Config) (inst module.Instance, err error) {
	f.mu.RLock()
	mt, ok := f.types[cfg.Name]
	if !ok {
		f.mu.RUnlock()
		return nil, typeNotRegistered(cfg.Name)
	}
	deps := make(map[string]module.Instance, len(cfg.Dependencies))
	for _, dep := range cfg.Dependencies {
		if _, registered := f.types[dep]; !registered {
			f.mu.RUnlock()
			return nil, &module.DependencyError{Module: cfg.Name, Dependency: dep, Err: module.ErrDependencyNotRegistered}
		}
		depInst, live := f.instances[dep]
		if !live {
			f.mu.RUnlock()
			return nil, &module.DependencyError{Module: cfg.Name, Dependency: dep, Err: module.ErrDependencyNotInstantiated}
		}
		deps[dep] = depInst
	}
	f.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = &module.ModuleError{Module: cfg.Name, Operation: module.OpInstall, Code: CodeConstructor, Err: module.PanicError(r)}
		}
	}()

	inst, err = mt.constructor(cfg, deps)
	if err != nil {
		return nil, &module.ModuleError{Module: cfg.Name, Operation: module.OpInstall, Code: CodeConstructor, Err: err}
	}
	if inst == nil {
		return nil, &module.ModuleError{Module: cfg.Name, Operation: module.OpInstall, Code: CodeConstructor, Err: ErrConstructorReturnedNil}
	}

	f.mu.Lock()
	f.instances[cfg.Name] = inst
	f.mu.Unlock()
	return inst, nil
}

// Instance returns the cached instance of name.
func (f *Factory) Instance(name string) (module.Instance, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	inst, ok := f.instances[name]
	return inst, ok
}

// Remove drops the cached instance of name. The type stays registered.
func (f *Factory) Remove(name string) {
	f.mu.Lock()
	delete(f.instances, name)
	f.mu.Unlock()
}

// Types lists registered module types sorted by name.
func (f *Factory) Types() []TypeInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]TypeInfo, 0, len(f.types))
	for name, mt := range f.types {
		_, live := f.instances[name]
		out = append(out, TypeInfo{Name: name, Version: mt.version, RegisteredAt: mt.registeredAt, Instantiated: live})
	}
	slices.SortFunc(out, func(a, b TypeInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}
