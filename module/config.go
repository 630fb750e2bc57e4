package module

import (
	"fmt"
	"os"
	"strings"

	"github.com/blang/semver/v4"
	"go.uber.org/multierr"
)

// Config is the immutable description of a module supplied by the caller.
type Config struct {
	Name         string         `yaml:"name" toml:"name" json:"name"`
	Version      string         `yaml:"version" toml:"version" json:"version"`
	Description  string         `yaml:"description" toml:"description" json:"description,omitempty"`
	Priority     Priority       `yaml:"priority" toml:"priority" json:"priority"`
	Dependencies []string       `yaml:"dependencies" toml:"dependencies" json:"dependencies,omitempty"`
	Permissions  []string       `yaml:"permissions" toml:"permissions" json:"permissions,omitempty"`
	EnvVars      []string       `yaml:"env_vars" toml:"env_vars" json:"envVars,omitempty"`
	Settings     map[string]any `yaml:"settings" toml:"settings" json:"settings,omitempty"`
	HotReload    bool           `yaml:"hot_reload" toml:"hot_reload" json:"hotReload"`
}

// Validate checks the structural invariants of c and reports every
// violation at once in a single *ConfigurationError.
func (c Config) Validate() error {
	var errs error

	if strings.TrimSpace(c.Name) == "" {
		errs = multierr.Append(errs, ErrModuleNameEmpty)
	}
	if _, err := semver.Parse(strings.TrimPrefix(c.Version, "v")); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: %q", ErrInvalidVersion, c.Version))
	}
	if c.Priority != "" && !c.Priority.Valid() {
		errs = multierr.Append(errs, fmt.Errorf("%w: %q", ErrUnknownPriority, c.Priority))
	}

	seen := make(map[string]struct{}, len(c.Dependencies))
	for _, dep := range c.Dependencies {
		if dep == c.Name {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrSelfDependency, dep))
			continue
		}
		if _, dup := seen[dep]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrDuplicateDependency, dep))
			continue
		}
		seen[dep] = struct{}{}
	}

	if errs == nil {
		return nil
	}
	return &ConfigurationError{Module: c.Name, Errors: multierr.Errors(errs)}
}

// ValidateEnvironment reports the required environment variables of c that
// are not set, using lookup (os.LookupEnv when nil).
func (c Config) ValidateEnvironment(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs error
	for _, name := range c.EnvVars {
		if _, ok := lookup(name); !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrEnvVarMissing, name))
		}
	}
	if errs == nil {
		return nil
	}
	return &ConfigurationError{Module: c.Name, Errors: multierr.Errors(errs)}
}

// EffectivePriority returns c.Priority, defaulting to MEDIUM.
func (c Config) EffectivePriority() Priority {
	if c.Priority == "" {
		return PriorityMedium
	}
	return c.Priority
}

// Clone returns a copy of c whose slices and settings map are not shared.
func (c Config) Clone() Config {
	out := c
	out.Dependencies = append([]string(nil), c.Dependencies...)
	out.Permissions = append([]string(nil), c.Permissions...)
	out.EnvVars = append([]string(nil), c.EnvVars...)
	out.Settings = CloneSettings(c.Settings)
	return out
}

// CloneSettings shallow-copies a settings map.
func CloneSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		out[k] = v
	}
	return out
}
