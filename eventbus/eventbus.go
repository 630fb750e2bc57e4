// Package eventbus provides an in-process publish/subscribe bus with
// priority-ordered handlers, per-handler timeouts and retries, middleware
// interception, statistics and a bounded event history.
//
// Handlers run in ascending priority order. Adjacent handlers subscribed
// with WithConcurrent run together. A sequential handler starts only after
// every handler ahead of it has returned, and handlers behind it wait for
// it:
//
//	bus := eventbus.New(eventbus.Config{})
//	id, _ := bus.Subscribe("order.created", handle, eventbus.WithRetry(2, 100*time.Millisecond))
//	err := bus.Publish(ctx, "order.created", order)
package eventbus

import (
	"context"
	"time"
)

// Envelope is a published event as seen by middleware and handlers.
type Envelope struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Data          any            `json:"data,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Handler handles a published event.
type Handler func(ctx context.Context, event Envelope) error

// Next invokes the rest of the middleware chain.
type Next func(ctx context.Context, event *Envelope) error

// Middleware intercepts every publish. It must call next to let the event
// through; returning an error aborts the publish.
type Middleware func(ctx context.Context, event *Envelope, next Next) error

// SubscriptionInfo describes an active subscription.
type SubscriptionInfo struct {
	ID         string        `json:"id"`
	EventType  string        `json:"eventType"`
	Priority   int           `json:"priority"`
	Concurrent bool          `json:"concurrent"`
	Timeout    time.Duration `json:"timeout"`
	Retry      bool          `json:"retry"`
	MaxRetries int           `json:"maxRetries"`
	RetryDelay time.Duration `json:"retryDelay"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// SubscribeOption customizes a subscription.
type SubscribeOption func(*SubscriptionInfo)

// WithPriority sets the handler priority; lower runs first.
func WithPriority(priority int) SubscribeOption {
	return func(s *SubscriptionInfo) { s.Priority = priority }
}

// WithConcurrent lets the handler run alongside the other concurrent
// handlers of the same event.
func WithConcurrent() SubscribeOption {
	return func(s *SubscriptionInfo) { s.Concurrent = true }
}

// WithTimeout bounds each handler attempt. Zero means no bound.
func WithTimeout(timeout time.Duration) SubscribeOption {
	return func(s *SubscriptionInfo) { s.Timeout = timeout }
}

// WithRetry retries a failing handler up to maxRetries more times,
// waiting delay between attempts.
func WithRetry(maxRetries int, delay time.Duration) SubscribeOption {
	return func(s *SubscriptionInfo) {
		s.Retry = true
		s.MaxRetries = maxRetries
		s.RetryDelay = delay
	}
}

// PublishOption customizes the published envelope.
type PublishOption func(*Envelope)

// WithSource records the publisher on the envelope.
func WithSource(source string) PublishOption {
	return func(e *Envelope) { e.Source = source }
}

// WithCorrelationID tags the envelope with a correlation id.
func WithCorrelationID(id string) PublishOption {
	return func(e *Envelope) { e.CorrelationID = id }
}

// WithMetadata attaches metadata to the envelope.
func WithMetadata(metadata map[string]any) PublishOption {
	return func(e *Envelope) { e.Metadata = metadata }
}

// HandlerStats are the counters kept per subscription.
type HandlerStats struct {
	EventType       string        `json:"eventType"`
	Invocations     uint64        `json:"invocations"`
	Errors          uint64        `json:"errors"`
	TotalDuration   time.Duration `json:"totalDuration"`
	AverageDuration time.Duration `json:"averageDuration"`
	LastInvokedAt   time.Time     `json:"lastInvokedAt"`
}

// Statistics is a snapshot of bus activity.
type Statistics struct {
	EventsPublished uint64                  `json:"eventsPublished"`
	EventsByType    map[string]uint64       `json:"eventsByType"`
	Handlers        map[string]HandlerStats `json:"handlers"`
	Subscriptions   int                     `json:"subscriptions"`
	EventTypes      int                     `json:"eventTypes"`
	Middleware      int                     `json:"middleware"`
	HistorySize     int                     `json:"historySize"`
}
