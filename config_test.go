package modkernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modkernel/feeders"
	"github.com/GoCodeAlone/modkernel/health"
	"github.com/GoCodeAlone/modkernel/lifecycle"
	"github.com/GoCodeAlone/modkernel/module"
	"github.com/GoCodeAlone/modkernel/registry"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, registry.DefaultOperationTimeout, cfg.OperationTimeout)
	assert.Equal(t, registry.DefaultHealthCheckTimeout, cfg.HealthCheckTimeout)
	assert.Zero(t, cfg.HealthCheckInterval)
	assert.Equal(t, registry.DefaultMaxEventHistory, cfg.MaxEventHistory)
	assert.Equal(t, lifecycle.DefaultTimeout, cfg.Lifecycle.Timeout)
	assert.Equal(t, lifecycle.DefaultMaxConcurrency, cfg.Lifecycle.MaxConcurrency)
	assert.False(t, cfg.Lifecycle.DisableRollback)
	assert.Equal(t, health.DefaultFailureThreshold, cfg.Health.FailureThreshold)
	assert.Equal(t, health.DefaultSuccessThreshold, cfg.Health.SuccessThreshold)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{OperationTimeout: 3 * time.Second}
	cfg.Lifecycle.MaxConcurrency = 2
	cfg.ApplyDefaults()

	assert.Equal(t, 3*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 2, cfg.Lifecycle.MaxConcurrency)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{
			name:   "negative timeout",
			mutate: func(c *Config) { c.OperationTimeout = -time.Second },
			want:   ErrInvalidTimeout,
		},
		{
			name:   "negative history",
			mutate: func(c *Config) { c.BusHistory = -1 },
			want:   ErrInvalidHistorySize,
		},
		{
			name:   "negative concurrency",
			mutate: func(c *Config) { c.Lifecycle.MaxConcurrency = -2 },
			want:   ErrInvalidConcurrency,
		},
		{
			name: "duplicate module",
			mutate: func(c *Config) {
				c.Modules = []ModuleSpec{spec("recorder", "a"), spec("recorder", "a")}
			},
			want: ErrDuplicateModule,
		},
		{
			name: "invalid module version",
			mutate: func(c *Config) {
				s := spec("recorder", "a")
				s.Config.Version = "one"
				c.Modules = []ModuleSpec{s}
			},
			want: module.ErrInvalidVersion,
		},
		{
			name: "missing dependency",
			mutate: func(c *Config) {
				c.Modules = []ModuleSpec{spec("recorder", "a", "ghost")}
			},
			want: module.ErrDependencyMissing,
		},
		{
			name: "dependency cycle",
			mutate: func(c *Config) {
				c.Modules = []ModuleSpec{spec("recorder", "a", "b"), spec("recorder", "b", "a")}
			},
			want: module.ErrCircularDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfigValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OperationTimeout = -time.Second
	cfg.MaxEventHistory = -1

	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidTimeout)
	assert.ErrorIs(t, err, ErrInvalidHistorySize)
}

func TestModuleSpecTypeName(t *testing.T) {
	assert.Equal(t, "recorder", spec("recorder", "a").TypeName())
	assert.Equal(t, "a", spec("", "a").TypeName())
}

const yamlConfig = `operation_timeout: 2s
health_check_interval: 10s
lifecycle:
  max_concurrency: 3
  continue_on_error: true
health:
  failure_threshold: 4
logging:
  level: warn
modules:
  - type: recorder
    config:
      name: db
      version: 1.2.0
      priority: CRITICAL
      settings:
        dsn: memory
  - type: recorder
    config:
      name: api
      version: 1.0.0
      dependencies: [db]
      hot_reload: true
`

func TestLoadConfigYAML(t *testing.T) {
	path := tempPath(t, "kernel.yaml")
	writeFile(t, path, yamlConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 10*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 3, cfg.Lifecycle.MaxConcurrency)
	assert.True(t, cfg.Lifecycle.ContinueOnError)
	assert.Equal(t, 4, cfg.Health.FailureThreshold)
	assert.Equal(t, health.DefaultSuccessThreshold, cfg.Health.SuccessThreshold)
	assert.Equal(t, "warn", cfg.Logging.Level)

	require.Len(t, cfg.Modules, 2)
	assert.Equal(t, "db", cfg.Modules[0].Config.Name)
	assert.Equal(t, module.PriorityCritical, cfg.Modules[0].Config.Priority)
	assert.Equal(t, "memory", cfg.Modules[0].Config.Settings["dsn"])
	assert.Equal(t, []string{"db"}, cfg.Modules[1].Config.Dependencies)
	assert.True(t, cfg.Modules[1].Config.HotReload)
}

func TestLoadConfigTOML(t *testing.T) {
	path := tempPath(t, "kernel.toml")
	writeFile(t, path, `operation_timeout = "4s"
bus_history = 50

[health]
success_threshold = 5

[[modules]]
type = "recorder"

[modules.config]
name = "cache"
version = "0.3.1"
priority = "LOW"

[modules.config.settings]
size = 128
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 50, cfg.BusHistory)
	assert.Equal(t, 5, cfg.Health.SuccessThreshold)
	require.Len(t, cfg.Modules, 1)
	assert.Equal(t, "cache", cfg.Modules[0].Config.Name)
	assert.Equal(t, module.PriorityLow, cfg.Modules[0].Config.Priority)
	assert.EqualValues(t, 128, cfg.Modules[0].Config.Settings["size"])
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := tempPath(t, "kernel.yaml")
	writeFile(t, path, yamlConfig)
	t.Setenv("MODKERNEL_OPERATION_TIMEOUT", "7s")
	t.Setenv("MODKERNEL_HEALTH_FAILURE_THRESHOLD", "9")
	t.Setenv("MODKERNEL_LIFECYCLE_DISABLE_ROLLBACK", "true")
	t.Setenv("MODKERNEL_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 9, cfg.Health.FailureThreshold)
	assert.True(t, cfg.Lifecycle.DisableRollback)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		_, err := LoadConfig(tempPath(t, "kernel.json"))
		assert.ErrorIs(t, err, feeders.ErrUnsupportedExtension)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(tempPath(t, "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad env value", func(t *testing.T) {
		path := tempPath(t, "kernel.yaml")
		writeFile(t, path, yamlConfig)
		t.Setenv("MODKERNEL_OPERATION_TIMEOUT", "soon")
		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, feeders.ErrTypeConversion)
	})

	t.Run("dependency cycle", func(t *testing.T) {
		path := tempPath(t, "kernel.yaml")
		writeFile(t, path, `modules:
  - type: recorder
    config: {name: a, version: 1.0.0, dependencies: [b]}
  - type: recorder
    config: {name: b, version: 1.0.0, dependencies: [a]}
`)
		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, module.ErrCircularDependency)
	})
}
