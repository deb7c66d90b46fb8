package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"edumarket/api/conversion"
	"edumarket/api/journey"
	"edumarket/api/kvstore"
	"edumarket/api/models"
	"edumarket/api/store"
	"edumarket/api/tracking"
	"edumarket/api/webhook"
)

var (
	ErrNoVisitor     = errors.New("missing visitor id")
	ErrUnknownFunnel = errors.New("unknown funnel")
)

const visitorPrefix = "visitor:"

type visitor struct {
	mu       sync.Mutex
	refs     int
	lastSeen time.Time
}

// Registry hands out per-visitor pipelines over a shared backend. Work for
// one visitor is serialised; different visitors run in parallel.
type Registry struct {
	root    kvstore.Store
	engines *Engines

	siteHost string
	window   time.Duration
	locator  tracking.Locator
	sink     Sink
	notifier *webhook.Client
	demo     bool
	quota    int
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

type RegistryOption func(*Registry)

func WithSiteHost(host string) RegistryOption {
	return func(r *Registry) { r.siteHost = host }
}

func WithAttributionWindow(d time.Duration) RegistryOption {
	return func(r *Registry) { r.window = d }
}

func WithLocator(loc tracking.Locator) RegistryOption {
	return func(r *Registry) { r.locator = loc }
}

func WithSink(s Sink) RegistryOption {
	return func(r *Registry) { r.sink = s }
}

func WithNotifier(c *webhook.Client) RegistryOption {
	return func(r *Registry) { r.notifier = c }
}

// WithDemo lets Insights return sample data for visitors without a session.
func WithDemo(on bool) RegistryOption {
	return func(r *Registry) { r.demo = on }
}

// WithQuota caps each visitor's storage in bytes.
func WithQuota(bytes int) RegistryOption {
	return func(r *Registry) { r.quota = bytes }
}

// WithActiveTTL sets how long a visitor counts as active after its last
// request.
func WithActiveTTL(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.ttl = d
		}
	}
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(root kvstore.Store, engines *Engines, opts ...RegistryOption) *Registry {
	r := &Registry{
		root:     root,
		engines:  engines,
		ttl:      30 * time.Minute,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Engines() *Engines { return r.engines }

// Do runs fn with the visitor's pipeline while holding the visitor's lock.
func (r *Registry) Do(ctx context.Context, visitorID string, fn func(*Analytics) error) error {
	return r.do(ctx, visitorID, true, fn)
}

// do touches the visitor's last-seen time only when touch is set, so that
// background work does not keep idle visitors alive.
func (r *Registry) do(ctx context.Context, visitorID string, touch bool, fn func(*Analytics) error) error {
	if visitorID == "" {
		return ErrNoVisitor
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	v := r.acquire(visitorID, touch)
	defer r.release(v)

	v.mu.Lock()
	defer v.mu.Unlock()
	return fn(r.build(visitorID))
}

func (r *Registry) acquire(id string, touch bool) *visitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visitors[id]
	if !ok {
		v = &visitor{lastSeen: r.now()}
		r.visitors[id] = v
	}
	if touch {
		v.lastSeen = r.now()
	}
	v.refs++
	return v
}

func (r *Registry) release(v *visitor) {
	r.mu.Lock()
	v.refs--
	r.mu.Unlock()
}

func (r *Registry) build(visitorID string) *Analytics {
	kv := kvstore.Limit(kvstore.Namespace(r.root, visitorPrefix+visitorID), r.quota)
	m := store.NewManager(kv, store.WithClock(r.now))
	return &Analytics{
		visitorID: visitorID,
		store:     m,
		engines:   r.engines,
		tracking: tracking.NewTracker(m,
			tracking.WithWindow(r.window),
			tracking.WithSiteHost(r.siteHost),
			tracking.WithLocator(r.locator)),
		journey:     journey.NewTracker(m),
		conversions: conversion.NewTracker(m, r.engines.Goals, r.engines.Attributor, r.engines.Publisher),
		sink:        r.sink,
		notifier:    r.notifier,
		demo:        r.demo,
	}
}

// Active lists the visitors seen within the active TTL.
func (r *Registry) Active() []string {
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, v := range r.visitors {
		if !v.lastSeen.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Known lists every visitor the registry still tracks, active or not.
func (r *Registry) Known() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.visitors))
	for id := range r.visitors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prune forgets visitors idle for longer than twice the active TTL and not
// currently in use. Their stored data is kept.
func (r *Registry) Prune() int {
	cutoff := r.now().Add(-2 * r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, v := range r.visitors {
		if v.refs == 0 && v.lastSeen.Before(cutoff) {
			delete(r.visitors, id)
			n++
		}
	}
	return n
}

// Each runs fn for every active visitor. Failures are logged and the first
// one is returned after all visitors ran.
func (r *Registry) Each(ctx context.Context, task string, fn func(context.Context, *Analytics) error) error {
	var first error
	for _, id := range r.Active() {
		err := r.do(ctx, id, false, func(a *Analytics) error { return fn(ctx, a) })
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error().Err(err).Str("visitor_id", id).Str("task", task).Msg("Visitor task failed")
		if first == nil {
			first = err
		}
	}
	return first
}

// Funnel analyzes funnelID over the journeys of every known visitor.
func (r *Registry) Funnel(ctx context.Context, funnelID string) (models.FunnelReport, error) {
	f, ok := r.engines.Funnel(funnelID)
	if !ok {
		return models.FunnelReport{}, fmt.Errorf("%w: %s", ErrUnknownFunnel, funnelID)
	}
	var sessionIDs []string
	var all conversion.Evidence
	for _, id := range r.Known() {
		err := r.do(ctx, id, false, func(a *Analytics) error {
			ids, ev, err := a.FunnelEvidence(ctx)
			if err != nil {
				return err
			}
			sessionIDs = append(sessionIDs, ids...)
			all.Steps = append(all.Steps, ev.Steps...)
			all.Pages = append(all.Pages, ev.Pages...)
			all.Events = append(all.Events, ev.Events...)
			return nil
		})
		if err != nil {
			return models.FunnelReport{}, err
		}
	}
	return conversion.AnalyzeFunnel(f, sessionIDs, all), nil
}
