// Package modkernel assembles the module registry, lifecycle manager,
// health monitor and event bus into a reference counted kernel Context.
package modkernel

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/GoCodeAlone/modkernel/eventbus"
	"github.com/GoCodeAlone/modkernel/health"
	"github.com/GoCodeAlone/modkernel/lifecycle"
	"github.com/GoCodeAlone/modkernel/logging"
	"github.com/GoCodeAlone/modkernel/module"
	"github.com/GoCodeAlone/modkernel/registry"
)

// EventSource is stamped on registry events forwarded to the bus.
const EventSource = "modkernel.registry"

// Option customizes a Context.
type Option func(*options)

type options struct {
	logger    logging.Logger
	lookupEnv func(string) (string, bool)
}

// WithLogger replaces the logger built from Config.Logging.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLookupEnv replaces os.LookupEnv for module environment checks.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(o *options) { o.lookupEnv = lookup }
}

type catalogEntry struct {
	constructor module.Constructor
	version     string
}

// components is one generation of kernel state, rebuilt by Reset.
type components struct {
	logger    logging.Logger
	closer    func() error
	registry  *registry.Registry
	lifecycle *lifecycle.Manager
	health    *health.Monitor
	bus       *eventbus.Bus

	shutdownDone chan struct{}
	shutdownErr  error
}

// Context owns one kernel instance. It is created explicitly, shared by
// reference counting and shut down when the last reference is released.
type Context struct {
	opts options

	mu   sync.RWMutex
	cfg  Config
	refs int
	comp *components

	catalogMu sync.RWMutex
	catalog   map[string]catalogEntry

	observersMu sync.RWMutex
	observers   map[string]*observerRegistration
}

// New builds a Context from cfg. Defaults are applied to cfg and the
// result is validated. No goroutines are started until Start.
func New(cfg Config, opts ...Option) (*Context, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kernel config: %w", err)
	}

	c := &Context{
		cfg:       cfg,
		catalog:   make(map[string]catalogEntry),
		observers: make(map[string]*observerRegistration),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}

	comp, err := c.build(cfg)
	if err != nil {
		return nil, err
	}
	c.comp = comp
	return c, nil
}

func (c *Context) build(cfg Config) (*components, error) {
	comp := &components{logger: c.opts.logger}
	if comp.logger == nil {
		zl, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		comp.logger = zl
		comp.closer = zl.Close
	}

	comp.bus = eventbus.New(eventbus.Config{
		MaxHistory: cfg.BusHistory,
		Source:     "modkernel",
		Logger:     comp.logger,
	})
	comp.registry = registry.New(registry.Config{
		OperationTimeout:    cfg.OperationTimeout,
		HealthCheckTimeout:  cfg.HealthCheckTimeout,
		HealthCheckInterval: cfg.HealthCheckInterval,
		MaxEventHistory:     cfg.MaxEventHistory,
		LookupEnv:           c.opts.lookupEnv,
		Logger:              comp.logger,
	})

	manager, err := lifecycle.New(lifecycle.Config{
		Registry: comp.registry,
		Bus:      comp.bus,
		Logger:   comp.logger,
	})
	if err != nil {
		return nil, err
	}
	comp.lifecycle = manager

	hc := cfg.Health
	hc.Source = comp.registry
	hc.Bus = comp.bus
	hc.Logger = comp.logger
	monitor, err := health.New(hc)
	if err != nil {
		return nil, err
	}
	comp.health = monitor

	bus := comp.bus
	comp.registry.Subscribe(registry.AnyEvent, func(ctx context.Context, event module.Event) error {
		return bus.Publish(ctx, string(event.Type), event, eventbus.WithSource(EventSource))
	}, 0)
	comp.registry.Subscribe(registry.AnyEvent, c.notifyObservers, 0)
	return comp, nil
}

func (c *Context) current() *components {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.comp
}

// Config returns the configuration the Context was built from.
func (c *Context) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Registry returns the module registry.
func (c *Context) Registry() *registry.Registry { return c.current().registry }

// Lifecycle returns the lifecycle manager.
func (c *Context) Lifecycle() *lifecycle.Manager { return c.current().lifecycle }

// Health returns the health monitor.
func (c *Context) Health() *health.Monitor { return c.current().health }

// Bus returns the event bus.
func (c *Context) Bus() *eventbus.Bus { return c.current().bus }

// Logger returns the kernel logger.
func (c *Context) Logger() logging.Logger { return c.current().logger }

// RegisterModuleType adds a constructor to the catalog used when the
// manifest is installed. The catalog survives Reset.
func (c *Context) RegisterModuleType(typeName string, constructor module.Constructor, version string) error {
	if typeName == "" {
		return ErrModuleTypeEmpty
	}
	if constructor == nil {
		return registry.ErrConstructorNil
	}
	c.catalogMu.Lock()
	defer c.catalogMu.Unlock()
	if _, exists := c.catalog[typeName]; exists {
		return fmt.Errorf("%w: %s", registry.ErrModuleTypeExists, typeName)
	}
	c.catalog[typeName] = catalogEntry{constructor: constructor, version: version}
	return nil
}

// ModuleTypes lists the catalog type names in sorted order.
func (c *Context) ModuleTypes() []string {
	c.catalogMu.RLock()
	defer c.catalogMu.RUnlock()
	return slices.Sorted(maps.Keys(c.catalog))
}

// InstallManifest installs every manifest module that is not yet known to
// the registry, dependencies first. It stops at the first failure.
func (c *Context) InstallManifest(ctx context.Context) error {
	cfg := c.Config()
	comp := c.current()

	configs, err := cfg.moduleConfigs()
	if err != nil {
		return err
	}
	order, err := module.ResolveOrder(configs)
	if err != nil {
		return err
	}
	specs := make(map[string]ModuleSpec, len(cfg.Modules))
	for _, spec := range cfg.Modules {
		specs[spec.Config.Name] = spec
	}

	for _, name := range order {
		if _, known := comp.registry.GetModule(name); known {
			continue
		}
		spec := specs[name]

		c.catalogMu.RLock()
		entry, ok := c.catalog[spec.TypeName()]
		c.catalogMu.RUnlock()
		if !ok {
			return fmt.Errorf("install %s: %w: %s", name, ErrUnknownModuleType, spec.TypeName())
		}

		version := entry.version
		if version == "" {
			version = spec.Config.Version
		}
		err := comp.registry.RegisterModuleType(name, entry.constructor, version)
		if err != nil && !errors.Is(err, registry.ErrModuleTypeExists) {
			return fmt.Errorf("install %s: %w", name, err)
		}
		if err := comp.registry.InstallModule(ctx, spec.Config); err != nil {
			return fmt.Errorf("install %s: %w", name, err)
		}
	}
	return nil
}

// Start installs the manifest, starts health supervision and runs a
// startup sequence with the configured lifecycle options.
func (c *Context) Start(ctx context.Context, opts ...lifecycle.Option) (*lifecycle.Result, error) {
	comp := c.current()
	if comp.registry.IsShuttingDown() {
		return nil, ErrContextClosed
	}
	if err := c.InstallManifest(ctx); err != nil {
		return nil, err
	}
	if err := comp.health.Start(ctx); err != nil && !errors.Is(err, health.ErrMonitorRunning) {
		return nil, err
	}
	if c.Config().HealthCheckInterval > 0 {
		if err := comp.registry.StartHealthSchedule(); err != nil {
			return nil, err
		}
	}

	res := comp.lifecycle.StartupSequence(ctx, append(c.Config().lifecycleOptions(), opts...)...)
	return res, res.Err()
}

// Acquire takes a reference on the Context.
func (c *Context) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.comp.shutdownDone != nil {
		return ErrContextClosed
	}
	c.refs++
	return nil
}

// Release drops a reference. Releasing the last reference shuts the
// Context down.
func (c *Context) Release(ctx context.Context) error {
	c.mu.Lock()
	if c.refs == 0 {
		c.mu.Unlock()
		return ErrNotAcquired
	}
	c.refs--
	last := c.refs == 0
	c.mu.Unlock()

	if !last {
		return nil
	}
	return c.Shutdown(ctx)
}

// Refs returns the number of held references.
func (c *Context) Refs() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refs
}

// Shutdown stops health supervision, runs a shutdown sequence that
// continues past failures without rollback, then shuts the registry and
// the bus down. Concurrent and repeated calls share one execution.
func (c *Context) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	comp := c.comp
	if comp.shutdownDone != nil {
		done := comp.shutdownDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		return comp.shutdownErr
	}
	done := make(chan struct{})
	comp.shutdownDone = done
	timeout := c.cfg.Lifecycle.Timeout
	c.mu.Unlock()

	err := comp.shutdown(ctx, timeout)

	c.mu.Lock()
	comp.shutdownErr = err
	c.mu.Unlock()
	close(done)
	return err
}

func (comp *components) shutdown(ctx context.Context, timeout time.Duration) error {
	comp.logger.Info("Shutting down kernel")
	comp.health.Stop()

	res := comp.lifecycle.ShutdownSequence(ctx,
		lifecycle.WithContinueOnError(true),
		lifecycle.WithRollback(false),
		lifecycle.WithTimeout(timeout),
	)
	err := errors.Join(
		res.Err(),
		comp.registry.Shutdown(ctx),
		comp.bus.Shutdown(ctx),
	)
	if err != nil {
		comp.logger.Error("Kernel shutdown finished with errors", "error", err)
	} else {
		comp.logger.Info("Kernel shut down", "duration", res.Duration)
	}
	if comp.closer != nil {
		if cerr := comp.closer(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

// Reset shuts the current kernel down and replaces it with a fresh one
// built from the same Config. References and observers are dropped; the
// module type catalog is kept.
func (c *Context) Reset(ctx context.Context) error {
	shutdownErr := c.Shutdown(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	comp, err := c.build(c.cfg)
	if err != nil {
		return errors.Join(shutdownErr, err)
	}
	c.comp = comp
	c.refs = 0

	c.observersMu.Lock()
	c.observers = make(map[string]*observerRegistration)
	c.observersMu.Unlock()
	return shutdownErr
}
