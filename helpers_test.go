package modkernel

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modkernel/logging"
	"github.com/GoCodeAlone/modkernel/module"
)

// recordingModule counts its lifecycle calls and keeps every settings map
// it was configured with.
type recordingModule struct {
	module.Base

	mu       sync.Mutex
	starts   int
	stops    int
	settings []map[string]any
}

func (m *recordingModule) Configure(_ context.Context, settings map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = append(m.settings, settings)
	return nil
}

func (m *recordingModule) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	return nil
}

func (m *recordingModule) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return nil
}

func (m *recordingModule) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *recordingModule) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *recordingModule) LastSettings() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.settings) == 0 {
		return nil
	}
	return m.settings[len(m.settings)-1]
}

// moduleCatalog hands out recordingModules and remembers them by name.
type moduleCatalog struct {
	mu        sync.Mutex
	instances map[string]*recordingModule
}

func newModuleCatalog() *moduleCatalog {
	return &moduleCatalog{instances: make(map[string]*recordingModule)}
}

func (c *moduleCatalog) construct(cfg module.Config, _ map[string]module.Instance) (module.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := &recordingModule{}
	c.instances[cfg.Name] = m
	return m, nil
}

func (c *moduleCatalog) get(name string) *recordingModule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instances[name]
}

func spec(typeName, name string, deps ...string) ModuleSpec {
	return ModuleSpec{
		Type: typeName,
		Config: module.Config{
			Name:         name,
			Version:      "1.0.0",
			Dependencies: deps,
		},
	}
}

func testConfig(specs ...ModuleSpec) Config {
	cfg := DefaultConfig()
	cfg.OperationTimeout = time.Second
	cfg.Lifecycle.Timeout = time.Second
	cfg.Modules = specs
	return cfg
}

// newTestContext builds a Context with a "recorder" catalog type and shuts
// it down when the test ends.
func newTestContext(t *testing.T, cfg Config) (*Context, *moduleCatalog) {
	t.Helper()
	kctx, err := New(cfg, WithLogger(logging.Nop()))
	require.NoError(t, err)

	catalog := newModuleCatalog()
	require.NoError(t, kctx.RegisterModuleType("recorder", catalog.construct, "1.0.0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = kctx.Shutdown(ctx)
	})
	return kctx, catalog
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func tempPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}
