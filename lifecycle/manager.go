// Package lifecycle runs ordered startup, shutdown and restart sequences
// over the modules held by a registry. Modules are started in priority
// tiers, in batches that run concurrently, and stopped in the reverse
// order.
package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/modkernel/eventbus"
	"github.com/GoCodeAlone/modkernel/logging"
	"github.com/GoCodeAlone/modkernel/module"
	"github.com/GoCodeAlone/modkernel/registry"
)

// ModuleRegistry is the part of the registry the manager drives.
type ModuleRegistry interface {
	ListModules() ([]registry.Info, error)
	ConfigureModule(ctx context.Context, name string, settings map[string]any) error
	StartModule(ctx context.Context, name string) error
	StopModule(ctx context.Context, name string) error
}

// Publisher receives sequence progress events.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any, opts ...eventbus.PublishOption) error
}

// Config configures a Manager.
type Config struct {
	Registry ModuleRegistry
	// Bus is optional.
	Bus    Publisher
	Logger logging.Logger
}

// Manager coordinates lifecycle sequences. A sequence of a given kind that
// is requested while another of the same kind is running waits for it and
// returns the same result.
type Manager struct {
	registry ModuleRegistry
	bus      Publisher
	logger   logging.Logger

	mu       sync.Mutex
	inflight map[Kind]*sequence
	current  *Operation
}

type sequence struct {
	done   chan struct{}
	result *Result
}

// New creates a manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, ErrRegistryRequired
	}
	return &Manager{
		registry: cfg.Registry,
		bus:      cfg.Bus,
		logger:   logging.OrNop(cfg.Logger),
		inflight: make(map[Kind]*sequence),
	}, nil
}

// CurrentOperation reports the sequence in flight, if any.
func (m *Manager) CurrentOperation() (Operation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Operation{}, false
	}
	return *m.current, true
}

// StartupSequence configures and starts every INSTALLED or CONFIGURED
// module.
func (m *Manager) StartupSequence(ctx context.Context, opts ...Option) *Result {
	return m.coalesce(KindStartup, func() *Result {
		return m.startup(ctx, buildOptions(opts))
	})
}

// ShutdownSequence stops every RUNNING module in reverse plan order. It
// never aborts early and never rolls back.
func (m *Manager) ShutdownSequence(ctx context.Context, opts ...Option) *Result {
	return m.coalesce(KindShutdown, func() *Result {
		return m.shutdown(ctx, buildOptions(opts))
	})
}

// RestartSequence runs a shutdown followed by a startup. When the
// shutdown fails its result is returned and nothing is started.
func (m *Manager) RestartSequence(ctx context.Context, opts ...Option) *Result {
	down := m.ShutdownSequence(ctx, opts...)
	if down.Phase == PhaseFailed {
		m.logger.Error("Restart aborted, shutdown failed", "failed", len(down.FailedModules))
		return down
	}
	return m.StartupSequence(ctx, opts...)
}

func (m *Manager) coalesce(kind Kind, run func() *Result) *Result {
	m.mu.Lock()
	if seq, ok := m.inflight[kind]; ok {
		m.mu.Unlock()
		m.logger.Debug("Joining in-flight lifecycle sequence", "kind", string(kind))
		<-seq.done
		return seq.result
	}
	seq := &sequence{done: make(chan struct{})}
	m.inflight[kind] = seq
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inflight, kind)
		if m.current != nil && m.current.Kind == kind {
			m.current = nil
		}
		m.mu.Unlock()
		close(seq.done)
	}()

	seq.result = run()
	return seq.result
}

func (m *Manager) setPhase(res *Result, phase Phase) {
	res.Phase = phase
	m.mu.Lock()
	m.current = &Operation{Kind: res.Kind, Phase: phase, StartedAt: res.StartedAt}
	m.mu.Unlock()
}

func (m *Manager) startup(ctx context.Context, opts Options) *Result {
	res := &Result{Kind: KindStartup, StartedAt: time.Now()}
	m.setPhase(res, PhasePlanning)

	configs, byName, err := m.candidates(module.StateInstalled, module.StateConfigured)
	if err != nil {
		return m.managerFailure(ctx, res, err)
	}
	batches := PlanBatches(configs, opts.MaxConcurrency, opts.Order)
	res.TotalModules = countNames(batches)

	m.setPhase(res, PhaseExecuting)
	m.logger.Info("Starting modules", "modules", res.TotalModules, "batches", len(batches))
	m.publish(ctx, EventSequenceStarted, res)

	aborted := false
	for i, batch := range batches {
		m.logger.Debug("Starting batch", "batch", i+1, "modules", batch)
		succeeded, failed := m.runBatch(ctx, batch, func(ctx context.Context, name string) error {
			return m.startModule(ctx, byName[name], opts.Timeout)
		})
		res.SucceededModules = append(res.SucceededModules, succeeded...)
		res.FailedModules = append(res.FailedModules, failed...)
		if len(failed) > 0 && !opts.ContinueOnError {
			aborted = true
			break
		}
	}

	switch {
	case !aborted:
		m.finish(ctx, res, PhaseCompleted)
	case opts.RollbackOnFailure:
		m.rollback(ctx, res.SucceededModules, opts.Timeout)
		m.finish(ctx, res, PhaseRolledBack)
	default:
		m.finish(ctx, res, PhaseFailed)
	}
	return res
}

func (m *Manager) shutdown(ctx context.Context, opts Options) *Result {
	res := &Result{Kind: KindShutdown, StartedAt: time.Now()}
	m.setPhase(res, PhasePlanning)

	configs, _, err := m.candidates(module.StateRunning)
	if err != nil {
		return m.managerFailure(ctx, res, err)
	}
	batches := reversePlan(PlanBatches(configs, opts.MaxConcurrency, opts.Order))
	res.TotalModules = countNames(batches)

	m.setPhase(res, PhaseExecuting)
	m.logger.Info("Stopping modules", "modules", res.TotalModules, "batches", len(batches))
	m.publish(ctx, EventSequenceStarted, res)

	for i, batch := range batches {
		m.logger.Debug("Stopping batch", "batch", i+1, "modules", batch)
		succeeded, failed := m.runBatch(ctx, batch, func(ctx context.Context, name string) error {
			return registry.CallWithTimeout(ctx, opts.Timeout, name, module.OpStop, func(c context.Context) error {
				return m.registry.StopModule(c, name)
			})
		})
		res.SucceededModules = append(res.SucceededModules, succeeded...)
		res.FailedModules = append(res.FailedModules, failed...)
	}

	if len(res.FailedModules) > 0 {
		m.finish(ctx, res, PhaseFailed)
	} else {
		m.finish(ctx, res, PhaseCompleted)
	}
	return res
}

// candidates returns the configs of the modules in any of the given
// states together with their registry snapshots keyed by name.
func (m *Manager) candidates(states ...module.State) ([]module.Config, map[string]registry.Info, error) {
	infos, err := m.registry.ListModules()
	if err != nil {
		return nil, nil, fmt.Errorf("list modules: %w", err)
	}
	var configs []module.Config
	byName := make(map[string]registry.Info)
	for _, info := range infos {
		if slices.Contains(states, info.State) {
			configs = append(configs, info.Config)
			byName[info.Config.Name] = info
		}
	}
	return configs, byName, nil
}

func (m *Manager) startModule(ctx context.Context, info registry.Info, timeout time.Duration) error {
	name := info.Config.Name
	if info.State == module.StateInstalled {
		err := registry.CallWithTimeout(ctx, timeout, name, module.OpConfigure, func(c context.Context) error {
			return m.registry.ConfigureModule(c, name, info.Config.Settings)
		})
		if err != nil {
			return err
		}
	}
	return registry.CallWithTimeout(ctx, timeout, name, module.OpStart, func(c context.Context) error {
		return m.registry.StartModule(c, name)
	})
}

// runBatch runs op for every name concurrently and returns the names that
// succeeded, in completion order, and the failures.
func (m *Manager) runBatch(ctx context.Context, names []string, op func(context.Context, string) error) ([]string, []Failure) {
	var (
		mu        sync.Mutex
		succeeded []string
		failed    []Failure
		g         errgroup.Group
	)
	g.SetLimit(len(names))
	for _, name := range names {
		g.Go(func() error {
			err := safeRun(ctx, name, op)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Error("Module lifecycle operation failed", "module", name, "error", err)
				failed = append(failed, Failure{Module: name, Err: err})
				return nil
			}
			succeeded = append(succeeded, name)
			return nil
		})
	}
	_ = g.Wait()
	return succeeded, failed
}

// rollback stops started modules in exact reverse order of success.
func (m *Manager) rollback(ctx context.Context, started []string, timeout time.Duration) {
	m.logger.Warn("Rolling back started modules", "modules", len(started))
	for i := len(started) - 1; i >= 0; i-- {
		name := started[i]
		err := registry.CallWithTimeout(ctx, timeout, name, module.OpStop, func(c context.Context) error {
			return m.registry.StopModule(c, name)
		})
		if err != nil {
			m.logger.Error("Rollback failed to stop module", "module", name, "error", err)
		}
	}
}

func (m *Manager) managerFailure(ctx context.Context, res *Result, err error) *Result {
	m.logger.Error("Lifecycle sequence could not run", "kind", string(res.Kind), "error", err)
	res.FailedModules = []Failure{{Module: ManagerFailureName, Err: err}}
	m.finish(ctx, res, PhaseFailed)
	return res
}

func (m *Manager) finish(ctx context.Context, res *Result, phase Phase) {
	res.CompletedAt = time.Now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
	m.setPhase(res, phase)
	m.logger.Info("Lifecycle sequence finished",
		"kind", string(res.Kind), "phase", string(phase),
		"succeeded", len(res.SucceededModules), "failed", len(res.FailedModules),
		"duration", res.Duration)
	m.publish(ctx, EventSequenceCompleted, res)
}

func (m *Manager) publish(ctx context.Context, eventType string, res *Result) {
	if m.bus == nil {
		return
	}
	payload := SequenceEvent{
		Kind:         res.Kind,
		Phase:        res.Phase,
		TotalModules: res.TotalModules,
		Succeeded:    len(res.SucceededModules),
		Failed:       len(res.FailedModules),
		Duration:     res.Duration,
	}
	if err := m.bus.Publish(ctx, eventType, payload, eventbus.WithSource(ManagerFailureName)); err != nil {
		m.logger.Warn("Failed to publish lifecycle event", "event", eventType, "error", err)
	}
}

func safeRun(ctx context.Context, name string, op func(context.Context, string) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = module.PanicError(r)
		}
	}()
	return op(ctx, name)
}

func countNames(batches [][]string) int {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	return n
}
