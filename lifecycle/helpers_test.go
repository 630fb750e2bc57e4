package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modkernel/module"
	"github.com/GoCodeAlone/modkernel/registry"
)

var (
	errStartFailed = errors.New("start failed")
	errStopFailed  = errors.New("stop failed")
	errListFailed  = errors.New("registry unreadable")
)

// journal records hook calls across modules in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) Filter(prefix string) []string {
	var out []string
	for _, e := range j.Entries() {
		if len(e) > len(prefix) && e[:len(prefix)] == prefix {
			out = append(out, e[len(prefix):])
		}
	}
	return out
}

type scriptedModule struct {
	module.Base
	name       string
	log        *journal
	startErr   error
	stopErr    error
	startDelay time.Duration

	mu       sync.Mutex
	settings map[string]any
}

func (m *scriptedModule) Configure(_ context.Context, settings map[string]any) error {
	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()
	m.log.add("configure:" + m.name)
	return nil
}

func (m *scriptedModule) Start(ctx context.Context) error {
	if m.startDelay > 0 {
		select {
		case <-time.After(m.startDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.log.add("start:" + m.name)
	return m.startErr
}

func (m *scriptedModule) Stop(context.Context) error {
	m.log.add("stop:" + m.name)
	return m.stopErr
}

func (m *scriptedModule) Settings() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

type fixture struct {
	t        *testing.T
	registry *registry.Registry
	log      *journal
	modules  map[string]*scriptedModule
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := registry.New(registry.Config{})
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return &fixture{t: t, registry: r, log: &journal{}, modules: make(map[string]*scriptedModule)}
}

// add installs a module with the given priority, leaving it INSTALLED.
func (f *fixture) add(name string, priority module.Priority, tweak ...func(*scriptedModule)) *scriptedModule {
	f.t.Helper()
	m := &scriptedModule{name: name, log: f.log}
	for _, fn := range tweak {
		fn(m)
	}
	f.modules[name] = m
	require.NoError(f.t, f.registry.RegisterModuleType(name, func(module.Config, map[string]module.Instance) (module.Instance, error) {
		return m, nil
	}, "1.0.0"))
	require.NoError(f.t, f.registry.InstallModule(context.Background(), module.Config{
		Name:     name,
		Version:  "1.0.0",
		Priority: priority,
		Settings: map[string]any{"name": name},
	}))
	return m
}

func (f *fixture) manager(cfg Config) *Manager {
	f.t.Helper()
	cfg.Registry = f.registry
	m, err := New(cfg)
	require.NoError(f.t, err)
	return m
}

func (f *fixture) state(name string) module.State {
	info, ok := f.registry.GetModule(name)
	require.True(f.t, ok)
	return info.State
}

func failingStart(m *scriptedModule) { m.startErr = errStartFailed }
func failingStop(m *scriptedModule)  { m.stopErr = errStopFailed }

// brokenRegistry cannot list its modules.
type brokenRegistry struct{}

func (brokenRegistry) ListModules() ([]registry.Info, error) { return nil, errListFailed }
func (brokenRegistry) ConfigureModule(context.Context, string, map[string]any) error {
	return nil
}
func (brokenRegistry) StartModule(context.Context, string) error { return nil }
func (brokenRegistry) StopModule(context.Context, string) error  { return nil }
