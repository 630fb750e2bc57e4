package modkernel

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/GoCodeAlone/modkernel/module"
)

// CloudEventTypePrefix is prepended to registry event types, turning
// module.started into com.modkernel.module.started.
const CloudEventTypePrefix = "com.modkernel."

// CloudEventSource is the source attribute of bridged events.
const CloudEventSource = "modkernel/registry"

// Observer receives every registry event as a CloudEvent.
type Observer interface {
	// OnEvent is called synchronously from the registry's dispatch; it
	// should return quickly.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID identifies the observer for registration and logging.
	ObserverID() string
}

// ObserverInfo describes a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// FunctionalObserver adapts a function to the Observer interface.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer that calls handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) *FunctionalObserver {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent calls the handler.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID returns the observer id.
func (f *FunctionalObserver) ObserverID() string { return f.id }

// CloudEventType maps a registry event type to its CloudEvent type.
func CloudEventType(t module.EventType) string {
	return CloudEventTypePrefix + string(t)
}

// cloudEventData is the JSON body of a bridged event.
type cloudEventData struct {
	ModuleName string `json:"moduleName"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewCloudEvent converts a registry event. The event ID is reused when
// set; otherwise a UUIDv7 is generated.
func NewCloudEvent(event module.Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()

	id := event.ID
	if id == "" {
		if v7, err := uuid.NewV7(); err == nil {
			id = v7.String()
		} else {
			id = uuid.NewString()
		}
	}
	ce.SetID(id)
	ce.SetSource(CloudEventSource)
	ce.SetType(CloudEventType(event.Type))
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetSubject(event.ModuleName)

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ce.SetTime(ts)

	data := cloudEventData{ModuleName: event.ModuleName, Data: event.Data}
	if event.Err != nil {
		data.Error = event.Err.Error()
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return ce, fmt.Errorf("encode %s payload: %w", event.Type, err)
	}
	if err := ce.Validate(); err != nil {
		return ce, fmt.Errorf("invalid cloud event %s: %w", ce.Type(), err)
	}
	return ce, nil
}

// RegisterObserver subscribes o to registry events. eventTypes filters by
// CloudEvent type (either com.modkernel.module.started or module.started);
// none means every event. Registering an id again replaces the previous
// registration.
func (c *Context) RegisterObserver(o Observer, eventTypes ...string) error {
	if o == nil {
		return ErrObserverNil
	}
	id := o.ObserverID()
	if id == "" {
		return ErrObserverIDEmpty
	}

	filter := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		if !strings.HasPrefix(t, CloudEventTypePrefix) {
			t = CloudEventTypePrefix + t
		}
		filter[t] = true
	}

	c.observersMu.Lock()
	c.observers[id] = &observerRegistration{observer: o, eventTypes: filter, registeredAt: time.Now()}
	c.observersMu.Unlock()

	c.Logger().Info("Observer registered", "observerID", id, "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes o. Unknown observers are ignored.
func (c *Context) UnregisterObserver(o Observer) error {
	if o == nil {
		return ErrObserverNil
	}
	c.observersMu.Lock()
	_, existed := c.observers[o.ObserverID()]
	delete(c.observers, o.ObserverID())
	c.observersMu.Unlock()

	if existed {
		c.Logger().Info("Observer unregistered", "observerID", o.ObserverID())
	}
	return nil
}

// Observers lists the registered observers ordered by id.
func (c *Context) Observers() []ObserverInfo {
	c.observersMu.RLock()
	defer c.observersMu.RUnlock()

	out := make([]ObserverInfo, 0, len(c.observers))
	for id, reg := range c.observers {
		types := make([]string, 0, len(reg.eventTypes))
		for t := range reg.eventTypes {
			types = append(types, t)
		}
		slices.Sort(types)
		out = append(out, ObserverInfo{ID: id, EventTypes: types, RegisteredAt: reg.registeredAt})
	}
	slices.SortFunc(out, func(a, b ObserverInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// notifyObservers is subscribed to every registry event. Observer errors
// and panics are logged and never reach the registry.
func (c *Context) notifyObservers(ctx context.Context, event module.Event) error {
	c.observersMu.RLock()
	targets := make([]*observerRegistration, 0, len(c.observers))
	for _, reg := range c.observers {
		targets = append(targets, reg)
	}
	c.observersMu.RUnlock()
	if len(targets) == 0 {
		return nil
	}

	ce, err := NewCloudEvent(event)
	if err != nil {
		return err
	}
	for _, reg := range targets {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[ce.Type()] {
			continue
		}
		c.deliver(ctx, reg.observer, ce)
	}
	return nil
}

func (c *Context) deliver(ctx context.Context, o Observer, ce cloudevents.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.Logger().Error("Observer panicked", "observerID", o.ObserverID(), "event", ce.Type(), "panic", r)
		}
	}()
	if err := o.OnEvent(ctx, ce); err != nil {
		c.Logger().Error("Observer error", "observerID", o.ObserverID(), "event", ce.Type(), "error", err)
	}
}
