// Package registry tracks module instances and drives each one through its
// lifecycle state machine. Every state change is announced as a
// module.Event to the registry's subscribers.
package registry

import (
	"context"
	"errors"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/modkernel/logging"
	"github.com/GoCodeAlone/modkernel/module"
)

// Default settings applied by New.
const (
	DefaultOperationTimeout   = 30 * time.Second
	DefaultHealthCheckTimeout = 5 * time.Second
	DefaultMaxEventHistory    = 1000
)

// Config configures a Registry.
type Config struct {
	// OperationTimeout bounds every lifecycle hook. Zero uses the default.
	OperationTimeout time.Duration
	// HealthCheckTimeout bounds each instance HealthCheck call.
	HealthCheckTimeout time.Duration
	// HealthCheckInterval enables a periodic PerformHealthCheck when > 0.
	HealthCheckInterval time.Duration
	// MaxEventHistory caps the event history. Zero uses the default.
	MaxEventHistory int
	// LookupEnv checks required module environment variables on install.
	// Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	Logger    logging.Logger
}

// Info is a point-in-time view of one registered module.
type Info struct {
	Config       module.Config
	State        module.State
	Settings     map[string]any
	Metrics      module.Metrics
	LastHealth   *module.HealthResult
	LastError    error
	RegisteredAt time.Time
	StartedAt    time.Time
	StoppedAt    time.Time
}

type entry struct {
	config       module.Config
	state        module.State
	instance     module.Instance
	settings     map[string]any
	startupTime  time.Duration
	lastHealth   *module.HealthResult
	lastError    error
	registeredAt time.Time
	startedAt    time.Time
	stoppedAt    time.Time
	handlerIDs   []string
	busy         bool
}

// Registry owns module entries, the module factory and the registry event
// subscriber table.
type Registry struct {
	cfg     Config
	logger  logging.Logger
	factory *Factory

	mu      sync.RWMutex
	entries map[string]*entry
	// idle is signalled on mu whenever an entry stops being busy.
	idle *sync.Cond

	events *subscribers

	cronMu    sync.Mutex
	scheduler *cron.Cron

	shutdownMu   sync.Mutex
	shuttingDown bool
	shutdownDone chan struct{}
	shutdownErr  error
}

// New creates a registry. It starts no goroutines; the periodic health
// check only runs after StartHealthSchedule.
func New(cfg Config) *Registry {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if cfg.MaxEventHistory <= 0 {
		cfg.MaxEventHistory = DefaultMaxEventHistory
	}
	if cfg.LookupEnv == nil {
		cfg.LookupEnv = os.LookupEnv
	}
	cfg.Logger = logging.OrNop(cfg.Logger)

	r := &Registry{
		cfg:     cfg,
		logger:  cfg.Logger,
		factory: NewFactory(),
		entries: make(map[string]*entry),
		events:  newSubscribers(cfg.MaxEventHistory, cfg.Logger),
	}
	r.idle = sync.NewCond(&r.mu)
	return r
}

// Factory exposes the module factory.
func (r *Registry) Factory() *Factory { return r.factory }

// RegisterModuleType registers a constructor under name.
func (r *Registry) RegisterModuleType(name string, constructor module.Constructor, version string) error {
	if err := r.factory.Register(name, constructor, version); err != nil {
		return err
	}
	r.logger.Debug("Registered module type", "module", name, "version", version)
	r.emit(context.Background(), module.EventInstalling, name,
		module.InstallingData{Version: version, TypeOnly: true}, nil)
	return nil
}

// GetModule returns a snapshot of the named module.
func (r *Registry) GetModule(name string) (Info, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.RUnlock()
		return Info{}, false
	}
	info, inst := e.snapshot()
	r.mu.RUnlock()
	info.Metrics = collectMetrics(inst, info.Metrics)
	return info, true
}

// ListModules returns every module sorted by priority then name. It fails
// only once the registry has been shut down.
func (r *Registry) ListModules() ([]Info, error) {
	if r.closed() {
		return nil, ErrRegistryClosed
	}
	return r.ModulesInState(), nil
}

// ModulesInState returns the modules in any of the given states, sorted by
// priority then name. With no states, every module is returned.
func (r *Registry) ModulesInState(states ...module.State) []Info {
	type item struct {
		info Info
		inst module.Instance
	}
	r.mu.RLock()
	items := make([]item, 0, len(r.entries))
	for _, e := range r.entries {
		if len(states) > 0 && !slices.Contains(states, e.state) {
			continue
		}
		info, inst := e.snapshot()
		items = append(items, item{info: info, inst: inst})
	}
	r.mu.RUnlock()

	out := make([]Info, len(items))
	for i, it := range items {
		it.info.Metrics = collectMetrics(it.inst, it.info.Metrics)
		out[i] = it.info
	}
	slices.SortFunc(out, func(a, b Info) int {
		return module.ComparePriority(a.Config.Priority, a.Config.Name, b.Config.Priority, b.Config.Name)
	})
	return out
}

// Instance returns the live instance of name.
func (r *Registry) Instance(name string) (module.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || e.instance == nil {
		return nil, false
	}
	return e.instance, true
}

// RunningInstances returns the instances of every RUNNING module.
func (r *Registry) RunningInstances() map[string]module.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]module.Instance)
	for name, e := range r.entries {
		if e.state == module.StateRunning && e.instance != nil {
			out[name] = e.instance
		}
	}
	return out
}

// IsShuttingDown reports whether Shutdown has been called.
func (r *Registry) IsShuttingDown() bool {
	r.shutdownMu.Lock()
	defer r.shutdownMu.Unlock()
	return r.shuttingDown
}

func (r *Registry) closed() bool {
	r.shutdownMu.Lock()
	defer r.shutdownMu.Unlock()
	if r.shutdownDone == nil {
		return false
	}
	select {
	case <-r.shutdownDone:
		return true
	default:
		return false
	}
}

// Shutdown stops every running module, cancels the periodic health check
// and clears the subscriber table. Operations already in flight are waited
// for so that a module still starting is stopped too, and no module may be
// started once Shutdown has begun. Concurrent and repeated calls share a
// single execution and its result.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.shutdownMu.Lock()
	if r.shutdownDone != nil {
		done := r.shutdownDone
		r.shutdownMu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.shutdownMu.Lock()
		defer r.shutdownMu.Unlock()
		return r.shutdownErr
	}
	r.shuttingDown = true
	done := make(chan struct{})
	r.shutdownDone = done
	r.shutdownMu.Unlock()

	r.logger.Info("Shutting down module registry")
	waitErr := r.waitIdle(ctx)
	if waitErr != nil {
		r.logger.Warn("Stopping modules while operations are still in flight", "error", waitErr)
	}
	err := errors.Join(waitErr, r.StopAllModules(ctx))
	r.stopHealthSchedule()
	r.events.clear()
	if err != nil {
		r.logger.Error("Registry shutdown finished with errors", "error", err)
	} else {
		r.logger.Info("Module registry shut down")
	}

	r.shutdownMu.Lock()
	r.shutdownErr = err
	r.shutdownMu.Unlock()
	close(done)
	return err
}

// waitIdle blocks until no entry is busy or ctx ends.
func (r *Registry) waitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.idle.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.anyBusyLocked() {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.idle.Wait()
	}
	return nil
}

func (r *Registry) anyBusyLocked() bool {
	for _, e := range r.entries {
		if e.busy {
			return true
		}
	}
	return false
}

func (e *entry) snapshot() (Info, module.Instance) {
	var health *module.HealthResult
	if e.lastHealth != nil {
		h := *e.lastHealth
		health = &h
	}
	return Info{
		Config:       e.config.Clone(),
		State:        e.state,
		Settings:     module.CloneSettings(e.settings),
		Metrics:      module.Metrics{StartupTime: e.startupTime},
		LastHealth:   health,
		LastError:    e.lastError,
		RegisteredAt: e.registeredAt,
		StartedAt:    e.startedAt,
		StoppedAt:    e.stoppedAt,
	}, e.instance
}

func collectMetrics(inst module.Instance, base module.Metrics) (m module.Metrics) {
	if inst == nil {
		return base
	}
	defer func() {
		if recover() != nil {
			m = base
		}
	}()
	m = inst.Metrics()
	if base.StartupTime > 0 {
		m.StartupTime = base.StartupTime
	}
	return m
}
