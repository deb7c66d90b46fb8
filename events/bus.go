// Package events carries the custom events engines publish for each other:
// conversions, personalization conversions and retargeting displays.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Name string

const (
	Conversion                Name = "conversion"
	PersonalizationConversion Name = "personalization-conversion"
	RetargetingDisplay        Name = "retargeting-display"
	RetargetingConversion     Name = "retargeting-conversion"
)

type Event struct {
	Name      Name      `json:"name"`
	VisitorID string    `json:"visitorId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type Handler func(ctx context.Context, e Event)

// Publisher is what engines depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

type visitorKey struct{}

// WithVisitor tags ctx so events published under it carry the visitor id.
func WithVisitor(ctx context.Context, visitorID string) context.Context {
	return context.WithValue(ctx, visitorKey{}, visitorID)
}

func VisitorFrom(ctx context.Context) string {
	id, _ := ctx.Value(visitorKey{}).(string)
	return id
}

// Bus dispatches events synchronously to subscribers in subscription order.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Name][]subscription
	all      []subscription
}

type subscription struct {
	id int
	h  Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Name][]subscription)}
}

// Subscribe registers h for one event name and returns a function that
// removes it.
func (b *Bus) Subscribe(name Name, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[name] = without(b.handlers[name], id)
	}
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = without(b.all, id)
	}
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.VisitorID == "" {
		e.VisitorID = VisitorFrom(ctx)
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[e.Name])+len(b.all))
	subs = append(subs, b.handlers[e.Name]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	for _, s := range subs {
		dispatch(ctx, s.h, e)
	}
}

// a failing subscriber must not stop the others
func dispatch(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(e.Name)).Msg("Event handler panicked")
		}
	}()
	h(ctx, e)
}

func without(subs []subscription, id int) []subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Recorder collects published events, for tests and the insights view.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ctx context.Context, e Event) {
	if e.VisitorID == "" {
		e.VisitorID = VisitorFrom(ctx)
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) {}
