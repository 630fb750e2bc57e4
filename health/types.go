package health

import (
	"context"
	"time"

	"github.com/GoCodeAlone/modkernel/eventbus"
	"github.com/GoCodeAlone/modkernel/logging"
	"github.com/GoCodeAlone/modkernel/module"
	"github.com/GoCodeAlone/modkernel/registry"
)

// Default monitor settings.
const (
	DefaultCheckInterval       = 30 * time.Second
	DefaultCheckTimeout        = 5 * time.Second
	DefaultFailureThreshold    = 3
	DefaultSuccessThreshold    = 2
	DefaultHistorySize         = 100
	DefaultMaxConcurrentChecks = 10
	DefaultMetricsInterval     = 60 * time.Second

	// summaryWindow is the number of recent history entries used for
	// average duration and error rate.
	summaryWindow = 10
)

// EventStatusChanged is the bus event type published on status changes.
const EventStatusChanged = "health.status_changed"

// ModuleSource is the view of the registry the monitor needs.
type ModuleSource interface {
	Subscribe(eventType module.EventType, handler module.HandlerFunc, priority int) string
	Unsubscribe(id string) bool
	RunningInstances() map[string]module.Instance
	Instance(name string) (module.Instance, bool)
	GetModule(name string) (registry.Info, bool)
}

// Publisher receives status change events.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any, opts ...eventbus.PublishOption) error
}

// Config configures a Monitor. Zero values take the defaults above.
type Config struct {
	CheckInterval       time.Duration `yaml:"check_interval" toml:"check_interval" env:"CHECK_INTERVAL"`
	CheckTimeout        time.Duration `yaml:"check_timeout" toml:"check_timeout" env:"CHECK_TIMEOUT"`
	FailureThreshold    int           `yaml:"failure_threshold" toml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	SuccessThreshold    int           `yaml:"success_threshold" toml:"success_threshold" env:"SUCCESS_THRESHOLD"`
	HistorySize         int           `yaml:"history_size" toml:"history_size" env:"HISTORY_SIZE"`
	MaxConcurrentChecks int           `yaml:"max_concurrent_checks" toml:"max_concurrent_checks" env:"MAX_CONCURRENT_CHECKS"`
	EnableMetrics       bool          `yaml:"enable_metrics" toml:"enable_metrics" env:"ENABLE_METRICS"`
	MetricsInterval     time.Duration `yaml:"metrics_interval" toml:"metrics_interval" env:"METRICS_INTERVAL"`

	Source ModuleSource   `yaml:"-" toml:"-"`
	Bus    Publisher      `yaml:"-" toml:"-"`
	Logger logging.Logger `yaml:"-" toml:"-"`
}

func (c *Config) applyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.MaxConcurrentChecks <= 0 {
		c.MaxConcurrentChecks = DefaultMaxConcurrentChecks
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = DefaultMetricsInterval
	}
	c.Logger = logging.OrNop(c.Logger)
}

// HistoryEntry is one recorded status change.
type HistoryEntry struct {
	Timestamp time.Time
	Status    module.HealthStatus
	Duration  time.Duration
	Result    module.HealthResult
	Error     string
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is raised on qualifying status transitions.
type Alert struct {
	ID           string
	Severity     Severity
	ModuleName   string
	Message      string
	Timestamp    time.Time
	Data         map[string]any
	Acknowledged bool
}

// StatusChange describes a module moving between health statuses.
type StatusChange struct {
	ModuleName string
	Previous   module.HealthStatus
	Current    module.HealthStatus
	Result     module.HealthResult
	Timestamp  time.Time
}

// ModuleSummary aggregates the health record of one module.
type ModuleSummary struct {
	Name                 string
	Status               module.HealthStatus
	Uptime               time.Duration
	LastCheck            time.Time
	AverageCheckDuration time.Duration
	ErrorRate            float64
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	History              []HistoryEntry
}

// Summary is the system-wide health view.
type Summary struct {
	Status       module.HealthStatus
	Modules      map[string]ModuleSummary
	Healthy      int
	Degraded     int
	Unhealthy    int
	Unknown      int
	ActiveAlerts int
	GeneratedAt  time.Time
}
