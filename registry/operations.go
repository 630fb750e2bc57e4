package registry

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/GoCodeAlone/modkernel/module"
)

// InstallModule validates cfg, builds the instance through the factory and
// runs its Install hook. The module ends INSTALLED, or FAILED when the
// constructor or hook fails.
func (r *Registry) InstallModule(ctx context.Context, cfg module.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateEnvironment(r.cfg.LookupEnv); err != nil {
		return err
	}
	if r.IsShuttingDown() {
		return shuttingDown(cfg.Name, module.OpInstall)
	}

	cfg = cfg.Clone()
	name := cfg.Name

	r.mu.Lock()
	if existing, ok := r.entries[name]; ok {
		state := existing.state
		r.mu.Unlock()
		return alreadyInstalled(name, state)
	}
	e := &entry{
		config:       cfg,
		state:        module.StateUninstalled,
		settings:     module.CloneSettings(cfg.Settings),
		registeredAt: time.Now(),
		busy:         true,
	}
	r.entries[name] = e
	r.mu.Unlock()
	defer r.release(e)

	r.logger.Debug("Installing module", "module", name, "version", cfg.Version)
	r.emit(ctx, module.EventInstalling, name, module.InstallingData{Version: cfg.Version}, nil)

	inst, err := r.factory.Create(cfg)
	if err != nil {
		return r.fail(ctx, e, name, module.OpInstall, err)
	}
	r.mu.Lock()
	e.instance = inst
	r.mu.Unlock()

	if err := CallWithTimeout(ctx, r.cfg.OperationTimeout, name, module.OpInstall, inst.Install); err != nil {
		return r.fail(ctx, e, name, module.OpInstall, err)
	}

	r.setState(e, module.StateInstalled)
	r.logger.Info("Module installed", "module", name, "version", cfg.Version)
	r.emit(ctx, module.EventInstalled, name, nil, nil)
	return nil
}

// ConfigureModule applies settings to an INSTALLED module.
func (r *Registry) ConfigureModule(ctx context.Context, name string, settings map[string]any) error {
	e, inst, err := r.begin(name, module.OpConfigure)
	if err != nil {
		return err
	}
	defer r.release(e)

	settings = module.CloneSettings(settings)
	r.emit(ctx, module.EventConfiguring, name, module.ConfiguredData{Settings: settings}, nil)

	err = CallWithTimeout(ctx, r.cfg.OperationTimeout, name, module.OpConfigure, func(c context.Context) error {
		return inst.Configure(c, module.CloneSettings(settings))
	})
	if err != nil {
		return r.fail(ctx, e, name, module.OpConfigure, err)
	}

	r.mu.Lock()
	e.settings = settings
	e.state = module.StateConfigured
	r.mu.Unlock()
	r.logger.Info("Module configured", "module", name)
	r.emit(ctx, module.EventConfigured, name, module.ConfiguredData{Settings: settings}, nil)
	return nil
}

// StartModule starts a CONFIGURED module and wires its event handlers. It
// is rejected with ErrShuttingDown once Shutdown has begun.
func (r *Registry) StartModule(ctx context.Context, name string) error {
	e, inst, err := r.begin(name, module.OpStart)
	if err != nil {
		return err
	}
	defer r.release(e)

	r.setState(e, module.StateStarting)
	r.emit(ctx, module.EventStarting, name, nil, nil)

	began := time.Now()
	if err := CallWithTimeout(ctx, r.cfg.OperationTimeout, name, module.OpStart, inst.Start); err != nil {
		return r.fail(ctx, e, name, module.OpStart, err)
	}
	startup := time.Since(began)
	ids := r.registerHandlers(name, inst)

	r.mu.Lock()
	e.state = module.StateRunning
	e.startupTime = startup
	e.startedAt = time.Now()
	e.handlerIDs = ids
	e.lastError = nil
	r.mu.Unlock()

	r.logger.Info("Module started", "module", name, "startup", startup)
	r.emit(ctx, module.EventStarted, name, module.StartedData{StartupTime: startup}, nil)
	return nil
}

// StopModule stops a RUNNING module. Stopping a module in any other state
// is a no-op.
func (r *Registry) StopModule(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return notFound(name, module.OpStop)
	}
	if e.state != module.StateRunning {
		r.mu.Unlock()
		return nil
	}
	if e.busy {
		state := e.state
		r.mu.Unlock()
		return busy(name, module.OpStop, state)
	}
	e.busy = true
	r.mu.Unlock()
	defer r.release(e)

	return r.stop(ctx, e, name)
}

// stop runs the stop hook for an entry the caller holds busy.
func (r *Registry) stop(ctx context.Context, e *entry, name string) error {
	r.mu.Lock()
	e.state = module.StateStopping
	inst := e.instance
	ids := e.handlerIDs
	e.handlerIDs = nil
	r.mu.Unlock()

	r.emit(ctx, module.EventStopping, name, nil, nil)
	r.unregisterHandlers(ids)

	if err := CallWithTimeout(ctx, r.cfg.OperationTimeout, name, module.OpStop, inst.Stop); err != nil {
		return r.fail(ctx, e, name, module.OpStop, err)
	}

	stoppedAt := time.Now()
	r.mu.Lock()
	e.state = module.StateConfigured
	e.stoppedAt = stoppedAt
	r.mu.Unlock()

	r.logger.Info("Module stopped", "module", name)
	r.emit(ctx, module.EventStopped, name, module.StoppedData{StoppedAt: stoppedAt}, nil)
	return nil
}

// UninstallModule stops the module if it is running, runs its Uninstall
// and Cleanup hooks and forgets it. On failure the entry is kept in FAILED
// so it can be inspected and uninstalled again.
func (r *Registry) UninstallModule(ctx context.Context, name string) error {
	e, inst, err := r.begin(name, module.OpUninstall)
	if err != nil {
		return err
	}
	defer r.release(e)

	r.mu.RLock()
	running := e.state == module.StateRunning
	r.mu.RUnlock()
	if running {
		if err := r.stop(ctx, e, name); err != nil {
			return err
		}
	}

	r.emit(ctx, module.EventUninstalling, name, nil, nil)

	if inst != nil {
		if err := CallWithTimeout(ctx, r.cfg.OperationTimeout, name, module.OpUninstall, inst.Uninstall); err != nil {
			return r.fail(ctx, e, name, module.OpUninstall, err)
		}
		if err := CallWithTimeout(ctx, r.cfg.OperationTimeout, name, module.OpUninstall, inst.Cleanup); err != nil {
			return r.fail(ctx, e, name, module.OpUninstall, err)
		}
	}

	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()
	r.factory.Remove(name)

	r.logger.Info("Module uninstalled", "module", name)
	r.emit(ctx, module.EventUninstalled, name, nil, nil)
	return nil
}

// ReloadModule re-applies settings to a CONFIGURED or RUNNING module whose
// config enables hot reload. The state is left unchanged on success.
func (r *Registry) ReloadModule(ctx context.Context, name string, settings map[string]any) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	hot := ok && e.config.HotReload
	r.mu.RUnlock()
	if !ok {
		return notFound(name, module.OpReload)
	}
	if !hot {
		return &module.ModuleError{Module: name, Operation: module.OpReload, Code: CodeHotReload, Err: ErrHotReloadUnsupported}
	}

	e, inst, err := r.begin(name, module.OpReload)
	if err != nil {
		return err
	}
	defer r.release(e)

	settings = module.CloneSettings(settings)
	r.emit(ctx, module.EventConfiguring, name, module.ConfiguredData{Settings: settings, Reload: true}, nil)

	err = CallWithTimeout(ctx, r.cfg.OperationTimeout, name, module.OpReload, func(c context.Context) error {
		return inst.Configure(c, module.CloneSettings(settings))
	})
	if err != nil {
		return r.fail(ctx, e, name, module.OpReload, err)
	}

	r.mu.Lock()
	e.settings = settings
	r.mu.Unlock()
	r.logger.Info("Module reloaded", "module", name)
	r.emit(ctx, module.EventConfigured, name, module.ConfiguredData{Settings: settings, Reload: true}, nil)
	return nil
}

// StartAllModules starts every CONFIGURED module in priority order and
// returns the joined errors of those that failed.
func (r *Registry) StartAllModules(ctx context.Context) error {
	var errs []error
	for _, info := range r.ModulesInState(module.StateConfigured) {
		if err := r.StartModule(ctx, info.Config.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAllModules stops every RUNNING module in reverse priority order and
// returns the joined errors of those that failed.
func (r *Registry) StopAllModules(ctx context.Context) error {
	running := r.ModulesInState(module.StateRunning)
	slices.Reverse(running)
	var errs []error
	for _, info := range running {
		if err := r.StopModule(ctx, info.Config.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// begin checks that op may run on name and marks the entry busy. The
// caller must release the entry.
func (r *Registry) begin(name, op string) (*entry, module.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, nil, notFound(name, op)
	}
	if e.busy {
		return nil, nil, busy(name, op, e.state)
	}
	if err := module.CheckTransition(name, op, e.state); err != nil {
		return nil, nil, err
	}
	// Checked under mu so Shutdown either sees this entry busy or this
	// start sees Shutdown.
	if op == module.OpStart && r.IsShuttingDown() {
		return nil, nil, shuttingDown(name, op)
	}
	e.busy = true
	return e, e.instance, nil
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	e.busy = false
	r.idle.Broadcast()
	r.mu.Unlock()
}

func (r *Registry) setState(e *entry, state module.State) {
	r.mu.Lock()
	e.state = state
	r.mu.Unlock()
}

// fail moves e to FAILED, emits an error event and returns err wrapped for
// the caller.
func (r *Registry) fail(ctx context.Context, e *entry, name, op string, err error) error {
	err = module.Wrap(name, op, err)

	r.mu.Lock()
	prev := e.state
	e.state = module.StateFailed
	e.lastError = err
	r.mu.Unlock()

	r.logger.Error("Module operation failed", "module", name, "operation", op, "state", string(prev), "error", err)
	r.emit(ctx, module.EventError, name, module.ErrorData{Operation: op, State: prev}, err)
	return err
}
