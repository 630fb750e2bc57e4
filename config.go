package modkernel

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/GoCodeAlone/modkernel/feeders"
	"github.com/GoCodeAlone/modkernel/health"
	"github.com/GoCodeAlone/modkernel/lifecycle"
	"github.com/GoCodeAlone/modkernel/logging"
	"github.com/GoCodeAlone/modkernel/module"
	"github.com/GoCodeAlone/modkernel/registry"
)

// EnvPrefix prefixes every environment override read by LoadConfig.
const EnvPrefix = "MODKERNEL"

// Config is the kernel configuration: component settings plus the module
// manifest installed by Context.Start.
type Config struct {
	// OperationTimeout bounds every single-module lifecycle hook.
	OperationTimeout time.Duration `yaml:"operation_timeout" toml:"operation_timeout" env:"OPERATION_TIMEOUT"`
	// HealthCheckTimeout bounds the registry's own HealthCheck calls.
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout" toml:"health_check_timeout" env:"HEALTH_CHECK_TIMEOUT"`
	// HealthCheckInterval enables the registry's periodic sweep when > 0.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" toml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// MaxEventHistory caps the registry event history.
	MaxEventHistory int `yaml:"max_event_history" toml:"max_event_history" env:"MAX_EVENT_HISTORY"`
	// BusHistory caps the event bus history.
	BusHistory int `yaml:"bus_history" toml:"bus_history" env:"BUS_HISTORY"`

	Lifecycle LifecycleConfig `yaml:"lifecycle" toml:"lifecycle" env:"LIFECYCLE"`
	Health    health.Config   `yaml:"health" toml:"health" env:"HEALTH"`
	Logging   logging.Options `yaml:"logging" toml:"logging" env:"LOG"`

	Modules []ModuleSpec `yaml:"modules" toml:"modules" env:"-"`
}

// LifecycleConfig holds the defaults applied to every lifecycle sequence
// run through the Context.
type LifecycleConfig struct {
	Timeout         time.Duration `yaml:"timeout" toml:"timeout" env:"TIMEOUT"`
	MaxConcurrency  int           `yaml:"max_concurrency" toml:"max_concurrency" env:"MAX_CONCURRENCY"`
	ContinueOnError bool          `yaml:"continue_on_error" toml:"continue_on_error" env:"CONTINUE_ON_ERROR"`
	DisableRollback bool          `yaml:"disable_rollback" toml:"disable_rollback" env:"DISABLE_ROLLBACK"`
}

// ModuleSpec declares one module of the manifest. Type names the catalog
// constructor; it defaults to the module name.
type ModuleSpec struct {
	Type   string        `yaml:"type" toml:"type"`
	Config module.Config `yaml:"config" toml:"config"`
}

// TypeName returns the catalog type of the spec.
func (s ModuleSpec) TypeName() string {
	if s.Type != "" {
		return s.Type
	}
	return s.Config.Name
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with the component defaults.
func (c *Config) ApplyDefaults() {
	if c.OperationTimeout == 0 {
		c.OperationTimeout = registry.DefaultOperationTimeout
	}
	if c.HealthCheckTimeout == 0 {
		c.HealthCheckTimeout = registry.DefaultHealthCheckTimeout
	}
	if c.MaxEventHistory == 0 {
		c.MaxEventHistory = registry.DefaultMaxEventHistory
	}
	if c.BusHistory == 0 {
		c.BusHistory = registry.DefaultMaxEventHistory
	}
	if c.Lifecycle.Timeout == 0 {
		c.Lifecycle.Timeout = lifecycle.DefaultTimeout
	}
	if c.Lifecycle.MaxConcurrency == 0 {
		c.Lifecycle.MaxConcurrency = lifecycle.DefaultMaxConcurrency
	}
	if c.Health.CheckInterval == 0 {
		c.Health.CheckInterval = health.DefaultCheckInterval
	}
	if c.Health.CheckTimeout == 0 {
		c.Health.CheckTimeout = health.DefaultCheckTimeout
	}
	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = health.DefaultFailureThreshold
	}
	if c.Health.SuccessThreshold == 0 {
		c.Health.SuccessThreshold = health.DefaultSuccessThreshold
	}
	if c.Health.HistorySize == 0 {
		c.Health.HistorySize = health.DefaultHistorySize
	}
	if c.Health.MaxConcurrentChecks == 0 {
		c.Health.MaxConcurrentChecks = health.DefaultMaxConcurrentChecks
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate reports every problem in c: negative settings, invalid module
// configs, duplicate manifest entries, and missing or circular
// dependencies between manifest modules.
func (c Config) Validate() error {
	var errs error

	for name, d := range map[string]time.Duration{
		"operation_timeout":       c.OperationTimeout,
		"health_check_timeout":    c.HealthCheckTimeout,
		"health_check_interval":   c.HealthCheckInterval,
		"lifecycle.timeout":       c.Lifecycle.Timeout,
		"health.check_interval":   c.Health.CheckInterval,
		"health.check_timeout":    c.Health.CheckTimeout,
		"health.metrics_interval": c.Health.MetricsInterval,
	} {
		if d < 0 {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s=%s", ErrInvalidTimeout, name, d))
		}
	}
	for name, n := range map[string]int{
		"max_event_history":   c.MaxEventHistory,
		"bus_history":         c.BusHistory,
		"health.history_size": c.Health.HistorySize,
	} {
		if n < 0 {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s=%d", ErrInvalidHistorySize, name, n))
		}
	}
	if c.Lifecycle.MaxConcurrency < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: %d", ErrInvalidConcurrency, c.Lifecycle.MaxConcurrency))
	}

	configs, err := c.moduleConfigs()
	errs = multierr.Append(errs, err)
	if err == nil {
		if _, err := module.ResolveOrder(configs); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (c Config) moduleConfigs() ([]module.Config, error) {
	var errs error
	seen := make(map[string]bool, len(c.Modules))
	configs := make([]module.Config, 0, len(c.Modules))
	for i, spec := range c.Modules {
		if err := spec.Config.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("modules[%d]: %w", i, err))
			continue
		}
		if spec.TypeName() == "" {
			errs = multierr.Append(errs, fmt.Errorf("modules[%d]: %w", i, ErrModuleTypeEmpty))
			continue
		}
		if seen[spec.Config.Name] {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrDuplicateModule, spec.Config.Name))
			continue
		}
		seen[spec.Config.Name] = true
		configs = append(configs, spec.Config)
	}
	return configs, errs
}

// lifecycleOptions converts the configured defaults to sequence options.
func (c Config) lifecycleOptions() []lifecycle.Option {
	return []lifecycle.Option{
		lifecycle.WithTimeout(c.Lifecycle.Timeout),
		lifecycle.WithMaxConcurrency(c.Lifecycle.MaxConcurrency),
		lifecycle.WithContinueOnError(c.Lifecycle.ContinueOnError),
		lifecycle.WithRollback(!c.Lifecycle.DisableRollback),
	}
}

// LoadConfig reads a YAML or TOML file chosen by extension, applies
// MODKERNEL_* environment overrides, fills defaults and validates the
// result.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	file, err := feeders.ForFile(path)
	if err != nil {
		return cfg, err
	}
	if err := feeders.Feed(&cfg, file, feeders.NewEnvFeeder(EnvPrefix)); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
