package module

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a registry lifecycle event.
type EventType string

const (
	EventInstalling   EventType = "module.installing"
	EventInstalled    EventType = "module.installed"
	EventConfiguring  EventType = "module.configuring"
	EventConfigured   EventType = "module.configured"
	EventStarting     EventType = "module.starting"
	EventStarted      EventType = "module.started"
	EventStopping     EventType = "module.stopping"
	EventStopped      EventType = "module.stopped"
	EventUninstalling EventType = "module.uninstalling"
	EventUninstalled  EventType = "module.uninstalled"
	EventError        EventType = "module.error"
	EventHealthCheck  EventType = "module.health_check"
)

// AllEventTypes lists every registry event type.
var AllEventTypes = []EventType{
	EventInstalling, EventInstalled,
	EventConfiguring, EventConfigured,
	EventStarting, EventStarted,
	EventStopping, EventStopped,
	EventUninstalling, EventUninstalled,
	EventError, EventHealthCheck,
}

// Event is a registry lifecycle notification. Data holds the typed
// payload for the event kind (see the *Data types).
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	ModuleName string    `json:"moduleName"`
	Timestamp  time.Time `json:"timestamp"`
	Data       any       `json:"data,omitempty"`
	Err        error     `json:"-"`
}

// NewEvent builds an event stamped with a fresh ID and the current time.
func NewEvent(eventType EventType, moduleName string, data any, err error) Event {
	return Event{
		ID:         newEventID(),
		Type:       eventType,
		ModuleName: moduleName,
		Timestamp:  time.Now(),
		Data:       data,
		Err:        err,
	}
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// InstallingData accompanies EventInstalling. TypeOnly marks the
// notification raised when a module type is registered with the factory.
type InstallingData struct {
	Version  string
	TypeOnly bool
}

// StartedData accompanies EventStarted.
type StartedData struct {
	StartupTime time.Duration
}

// StoppedData accompanies EventStopped.
type StoppedData struct {
	StoppedAt time.Time
}

// ConfiguredData accompanies EventConfiguring and EventConfigured.
type ConfiguredData struct {
	Settings map[string]any
	Reload   bool
}

// ErrorData accompanies EventError.
type ErrorData struct {
	Operation string
	State     State
}

// HealthCheckData accompanies EventHealthCheck.
type HealthCheckData struct {
	Result HealthResult
}

// StartedPayload returns the StartedData of e, if present.
func (e Event) StartedPayload() (StartedData, bool) {
	d, ok := e.Data.(StartedData)
	return d, ok
}

// HealthCheckPayload returns the HealthCheckData of e, if present.
func (e Event) HealthCheckPayload() (HealthCheckData, bool) {
	d, ok := e.Data.(HealthCheckData)
	return d, ok
}

// ErrorPayload returns the ErrorData of e, if present.
func (e Event) ErrorPayload() (ErrorData, bool) {
	d, ok := e.Data.(ErrorData)
	return d, ok
}
