package eventbus

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/modkernel/logging"
)

// DefaultMaxHistory is the history bound used when Config leaves it unset.
const DefaultMaxHistory = 1000

// Config configures a Bus.
type Config struct {
	// MaxHistory bounds the event history; the oldest entry is evicted
	// first. Defaults to DefaultMaxHistory.
	MaxHistory int

	// Source is stamped on envelopes published without WithSource.
	Source string

	Logger logging.Logger
}

// Bus is the in-process event bus.
type Bus struct {
	config Config
	logger logging.Logger

	mu            sync.RWMutex
	subscriptions map[string][]*subscription // event type -> subscriptions
	byID          map[string]*subscription
	middleware    []*middlewareEntry
	history       []Envelope
	closed        bool
	seq           uint64

	statsMu sync.Mutex
	stats   busStats
}

type subscription struct {
	info    SubscriptionInfo
	handler Handler
	seq     uint64
}

type middlewareEntry struct {
	fn       Middleware
	priority int
	seq      uint64
}

type busStats struct {
	published uint64
	byType    map[string]uint64
	handlers  map[string]*HandlerStats
}

// New creates a Bus.
func New(config Config) *Bus {
	if config.MaxHistory <= 0 {
		config.MaxHistory = DefaultMaxHistory
	}
	return &Bus{
		config:        config,
		logger:        logging.OrNop(config.Logger),
		subscriptions: make(map[string][]*subscription),
		byID:          make(map[string]*subscription),
		stats: busStats{
			byType:   make(map[string]uint64),
			handlers: make(map[string]*HandlerStats),
		},
	}
}

// Subscribe registers handler for eventType and returns the subscription id.
func (b *Bus) Subscribe(eventType string, handler Handler, opts ...SubscribeOption) (string, error) {
	if eventType == "" {
		return "", ErrEmptyEventType
	}
	if handler == nil {
		return "", ErrNilHandler
	}

	info := SubscriptionInfo{
		ID:        uuid.New().String(),
		EventType: eventType,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&info)
	}
	if info.MaxRetries < 0 {
		info.MaxRetries = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrBusShutdown
	}

	b.seq++
	sub := &subscription{info: info, handler: handler, seq: b.seq}
	subs := append(b.subscriptions[eventType], sub)
	slices.SortStableFunc(subs, func(x, y *subscription) int {
		if x.info.Priority != y.info.Priority {
			return x.info.Priority - y.info.Priority
		}
		return cmp.Compare(x.seq, y.seq)
	})
	b.subscriptions[eventType] = subs
	b.byID[info.ID] = sub

	b.logger.Debug("Subscribed to event", "eventType", eventType, "subscription", info.ID, "priority", info.Priority)
	return info.ID, nil
}

// Unsubscribe removes a subscription. It reports whether the id was known.
// Removing the last subscription of an event type removes the type.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)

	eventType := sub.info.EventType
	subs := slices.DeleteFunc(b.subscriptions[eventType], func(s *subscription) bool { return s.info.ID == id })
	if len(subs) == 0 {
		delete(b.subscriptions, eventType)
	} else {
		b.subscriptions[eventType] = subs
	}
	return true
}

// Use adds middleware to the publish chain. Lower priority runs first.
func (b *Bus) Use(mw Middleware, priority int) error {
	if mw == nil {
		return ErrNilMiddleware
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusShutdown
	}
	b.seq++
	b.middleware = append(b.middleware, &middlewareEntry{fn: mw, priority: priority, seq: b.seq})
	slices.SortStableFunc(b.middleware, func(x, y *middlewareEntry) int {
		if x.priority != y.priority {
			return x.priority - y.priority
		}
		return cmp.Compare(x.seq, y.seq)
	})
	return nil
}

// Publish delivers payload to every subscriber of eventType. It returns the
// joined *HandlerError values of handlers that failed on their last
// attempt, or the error of a middleware that aborted the publish.
func (b *Bus) Publish(ctx context.Context, eventType string, payload any, opts ...PublishOption) error {
	if eventType == "" {
		return ErrEmptyEventType
	}

	env := Envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		Data:      payload,
		Timestamp: time.Now(),
		Source:    b.config.Source,
	}
	for _, opt := range opts {
		opt(&env)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusShutdown
	}
	chain := slices.Clone(b.middleware)
	b.mu.Unlock()

	return b.runChain(ctx, chain, 0, &env)
}

// PublishAndWait is Publish raced against timeout. A zero timeout waits
// for dispatch without bound. Handlers still running when the timeout
// fires see their context cancelled but are not waited for.
func (b *Bus) PublishAndWait(ctx context.Context, eventType string, payload any, timeout time.Duration, opts ...PublishOption) error {
	if timeout <= 0 {
		return b.Publish(ctx, eventType, payload, opts...)
	}

	pubCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- b.Publish(pubCtx, eventType, payload, opts...)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		cancel()
		return err
	case <-timer.C:
		cancel()
		return fmt.Errorf("%w: %q after %s", ErrPublishTimeout, eventType, timeout)
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("publish %q: %w", eventType, ctx.Err())
	}
}

func (b *Bus) runChain(ctx context.Context, chain []*middlewareEntry, i int, env *Envelope) error {
	if i == len(chain) {
		return b.dispatch(ctx, *env)
	}
	next := func(ctx context.Context, env *Envelope) error {
		return b.runChain(ctx, chain, i+1, env)
	}
	if err := chain[i].fn(ctx, env, next); err != nil {
		var handlerErr *HandlerError
		if !errors.As(err, &handlerErr) {
			b.logger.Warn("Middleware aborted publish", "eventType", env.Type, "error", err)
		}
		return err
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, env Envelope) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusShutdown
	}
	subs := slices.Clone(b.subscriptions[env.Type])
	b.history = append(b.history, env)
	if over := len(b.history) - b.config.MaxHistory; over > 0 {
		b.history = slices.Delete(b.history, 0, over)
	}
	b.mu.Unlock()

	b.statsMu.Lock()
	b.stats.published++
	b.stats.byType[env.Type]++
	b.statsMu.Unlock()

	if len(subs) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		failures []error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		failures = append(failures, err)
		errMu.Unlock()
	}

	// A sequential handler waits for the concurrent handlers ahead of it.
	for _, sub := range subs {
		if sub.info.Concurrent {
			wg.Add(1)
			go func(sub *subscription) {
				defer wg.Done()
				record(b.invoke(ctx, sub, env))
			}(sub)
			continue
		}
		wg.Wait()
		record(b.invoke(ctx, sub, env))
	}
	wg.Wait()

	return errors.Join(failures...)
}

// invoke runs one handler with its timeout and retry policy.
func (b *Bus) invoke(ctx context.Context, sub *subscription, env Envelope) error {
	attempts := 1
	if sub.info.Retry {
		attempts += sub.info.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && sub.info.RetryDelay > 0 {
			select {
			case <-time.After(sub.info.RetryDelay):
			case <-ctx.Done():
				return &HandlerError{SubscriptionID: sub.info.ID, EventType: env.Type, Attempts: attempt - 1, Err: ctx.Err()}
			}
		}

		start := time.Now()
		lastErr = b.callHandler(ctx, sub, env)
		b.recordInvocation(sub, time.Since(start), lastErr)
		if lastErr == nil {
			return nil
		}
		b.logger.Debug("Event handler failed", "eventType", env.Type, "subscription", sub.info.ID, "attempt", attempt, "error", lastErr)
	}

	b.logger.Error("Event handler exhausted attempts", "eventType", env.Type, "subscription", sub.info.ID, "attempts", attempts, "error", lastErr)
	return &HandlerError{SubscriptionID: sub.info.ID, EventType: env.Type, Attempts: attempts, Err: lastErr}
}

// callHandler runs the handler once, racing it against its timeout.
func (b *Bus) callHandler(ctx context.Context, sub *subscription, env Envelope) error {
	if sub.info.Timeout <= 0 {
		return safeCall(ctx, sub.handler, env)
	}

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- safeCall(hctx, sub.handler, env) }()

	timer := time.NewTimer(sub.info.Timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrHandlerTimeout, sub.info.Timeout)
	}
}

func safeCall(ctx context.Context, h Handler, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, env)
}

func (b *Bus) recordInvocation(sub *subscription, d time.Duration, err error) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	hs, ok := b.stats.handlers[sub.info.ID]
	if !ok {
		hs = &HandlerStats{EventType: sub.info.EventType}
		b.stats.handlers[sub.info.ID] = hs
	}
	hs.Invocations++
	hs.TotalDuration += d
	hs.AverageDuration = hs.TotalDuration / time.Duration(hs.Invocations)
	hs.LastInvokedAt = time.Now()
	if err != nil {
		hs.Errors++
	}
}

// Subscriptions lists the subscriptions of eventType in dispatch order, or
// every subscription when eventType is empty.
func (b *Bus) Subscriptions(eventType string) []SubscriptionInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []SubscriptionInfo
	if eventType != "" {
		for _, s := range b.subscriptions[eventType] {
			out = append(out, s.info)
		}
		return out
	}
	for _, t := range b.eventTypesLocked() {
		for _, s := range b.subscriptions[t] {
			out = append(out, s.info)
		}
	}
	return out
}

// EventTypes lists the event types that have at least one subscriber.
func (b *Bus) EventTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.eventTypesLocked()
}

func (b *Bus) eventTypesLocked() []string {
	types := make([]string, 0, len(b.subscriptions))
	for t := range b.subscriptions {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Statistics returns a snapshot of bus counters.
func (b *Bus) Statistics() Statistics {
	b.mu.RLock()
	subs, types, mws, hist := len(b.byID), len(b.subscriptions), len(b.middleware), len(b.history)
	b.mu.RUnlock()

	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	out := Statistics{
		EventsPublished: b.stats.published,
		EventsByType:    make(map[string]uint64, len(b.stats.byType)),
		Handlers:        make(map[string]HandlerStats, len(b.stats.handlers)),
		Subscriptions:   subs,
		EventTypes:      types,
		Middleware:      mws,
		HistorySize:     hist,
	}
	for k, v := range b.stats.byType {
		out.EventsByType[k] = v
	}
	for k, v := range b.stats.handlers {
		out.Handlers[k] = *v
	}
	return out
}

// History returns a copy of the retained events, oldest first.
func (b *Bus) History() []Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.history)
}

// ClearHistory drops the retained events.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}

// ClearSubscriptions removes every subscription.
func (b *Bus) ClearSubscriptions() {
	b.mu.Lock()
	b.subscriptions = make(map[string][]*subscription)
	b.byID = make(map[string]*subscription)
	b.mu.Unlock()
}

// Shutdown clears subscriptions, middleware and history and rejects any
// further publish or subscribe. It is idempotent.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.subscriptions = make(map[string][]*subscription)
	b.byID = make(map[string]*subscription)
	b.middleware = nil
	b.history = nil
	b.logger.Info("Event bus shut down")
	return nil
}
