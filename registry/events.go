package registry

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/modkernel/logging"
	"github.com/GoCodeAlone/modkernel/module"
)

// AnyEvent subscribes a handler to every registry event type.
const AnyEvent module.EventType = "*"

type subscriber struct {
	id        string
	eventType module.EventType
	priority  int
	seq       uint64
	handler   module.HandlerFunc
}

type subscribers struct {
	logger logging.Logger

	mu         sync.RWMutex
	byType     map[module.EventType][]*subscriber
	byID       map[string]*subscriber
	seq        uint64
	history    []module.Event
	maxHistory int
}

func newSubscribers(maxHistory int, logger logging.Logger) *subscribers {
	return &subscribers{
		logger:     logger,
		byType:     make(map[module.EventType][]*subscriber),
		byID:       make(map[string]*subscriber),
		maxHistory: maxHistory,
	}
}

func (s *subscribers) add(eventType module.EventType, handler module.HandlerFunc, priority int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	sub := &subscriber{
		id:        uuid.NewString(),
		eventType: eventType,
		priority:  priority,
		seq:       s.seq,
		handler:   handler,
	}
	list := append(s.byType[eventType], sub)
	slices.SortStableFunc(list, compareSubscribers)
	s.byType[eventType] = list
	s.byID[sub.id] = sub
	return sub.id
}

func (s *subscribers) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	list := slices.DeleteFunc(s.byType[sub.eventType], func(x *subscriber) bool { return x.id == id })
	if len(list) == 0 {
		delete(s.byType, sub.eventType)
	} else {
		s.byType[sub.eventType] = list
	}
	return true
}

func (s *subscribers) clear() {
	s.mu.Lock()
	s.byType = make(map[module.EventType][]*subscriber)
	s.byID = make(map[string]*subscriber)
	s.mu.Unlock()
}

// record appends event to the bounded history and returns the handlers
// that should receive it, lowest priority value first.
func (s *subscribers) record(event module.Event) []*subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, event)
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}

	targets := make([]*subscriber, 0, len(s.byType[event.Type])+len(s.byType[AnyEvent]))
	targets = append(targets, s.byType[event.Type]...)
	if event.Type != AnyEvent {
		targets = append(targets, s.byType[AnyEvent]...)
	}
	slices.SortStableFunc(targets, compareSubscribers)
	return targets
}

func (s *subscribers) dispatch(ctx context.Context, event module.Event, targets []*subscriber) {
	for _, sub := range targets {
		if err := callHandler(ctx, sub.handler, event); err != nil {
			s.logger.Error("Registry event handler failed",
				"event", string(event.Type), "module", event.ModuleName,
				"subscription", sub.id, "error", err)
		}
	}
}

func (s *subscribers) snapshotHistory() []module.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

func (s *subscribers) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func callHandler(ctx context.Context, handler module.HandlerFunc, event module.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = module.PanicError(r)
		}
	}()
	return handler(ctx, event)
}

func compareSubscribers(a, b *subscriber) int {
	if c := cmp.Compare(a.priority, b.priority); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// Subscribe registers handler for eventType (or AnyEvent) and returns the
// subscription ID. Lower priority values run first. A nil handler or an
// empty event type is ignored with a warning and yields an empty ID.
func (r *Registry) Subscribe(eventType module.EventType, handler module.HandlerFunc, priority int) string {
	if handler == nil || eventType == "" {
		r.logger.Warn("Ignoring invalid registry subscription",
			"eventType", string(eventType), "nilHandler", handler == nil)
		return ""
	}
	return r.events.add(eventType, handler, priority)
}

// Unsubscribe removes a subscription. It reports whether id was known.
func (r *Registry) Unsubscribe(id string) bool {
	return r.events.remove(id)
}

// PublishEvent records event in the history and delivers it to every
// matching subscriber in priority order. Handler errors and panics are
// logged, never returned.
func (r *Registry) PublishEvent(ctx context.Context, event module.Event) {
	targets := r.events.record(event)
	r.events.dispatch(ctx, event, targets)
}

// EventHistory returns a copy of the retained events, oldest first.
func (r *Registry) EventHistory() []module.Event {
	return r.events.snapshotHistory()
}

// SubscriberCount returns the number of active subscriptions.
func (r *Registry) SubscriberCount() int {
	return r.events.count()
}

func (r *Registry) emit(ctx context.Context, eventType module.EventType, name string, data any, err error) {
	r.PublishEvent(ctx, module.NewEvent(eventType, name, data, err))
}

// registerHandlers subscribes the handlers an instance declares.
func (r *Registry) registerHandlers(name string, inst module.Instance) []string {
	regs, err := instanceHandlers(inst)
	if err != nil {
		r.logger.Warn("Failed to read module event handlers", "module", name, "error", err)
		return nil
	}
	ids := make([]string, 0, len(regs))
	for _, reg := range regs {
		if reg.Handler == nil || reg.EventType == "" {
			continue
		}
		ids = append(ids, r.events.add(reg.EventType, reg.Handler, reg.Priority))
	}
	return ids
}

func (r *Registry) unregisterHandlers(ids []string) {
	for _, id := range ids {
		r.events.remove(id)
	}
}

func instanceHandlers(inst module.Instance) (regs []module.HandlerRegistration, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = module.PanicError(rec)
		}
	}()
	return inst.EventHandlers(), nil
}
