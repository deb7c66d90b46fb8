package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"edumarket/api/kvstore"
	"edumarket/api/models"
)

// DataType names a collection kept in device storage.
type DataType string

const (
	Sessions         DataType = "sessions"
	Events           DataType = "events"
	JourneySteps     DataType = "journey_steps"
	PageMetrics      DataType = "page_metrics"
	BehaviorPatterns DataType = "behavior_patterns"
	Conversions      DataType = "conversions"
	Touchpoints      DataType = "touchpoints"
	ABTests          DataType = "ab_tests"
	Retargeting      DataType = "retargeting"
)

// Keys holding single objects rather than collections.
const (
	KeyCurrentSession  = "current_session"
	KeyCurrentPage     = "current_page"
	KeyPersonalization = "personalization"
	KeyPreferences     = "preferences"
	KeySegments        = "segments"
	KeyEventQueue      = "event_queue"
	KeyFiredGoals      = "fired_goals"
	KeyAudiences       = "audiences"
	KeyFingerprint     = "fingerprint"
)

// Policy bounds one collection. TimestampField documents which record field
// drives retention; the typed accessor on Collection reads it.
type Policy struct {
	MaxItems       int
	Retention      time.Duration
	TimestampField string
}

const day = 24 * time.Hour

var DefaultPolicies = map[DataType]Policy{
	Sessions:         {MaxItems: 50, Retention: 90 * day, TimestampField: "lastVisit"},
	Events:           {MaxItems: 1000, Retention: 30 * day, TimestampField: "timestamp"},
	JourneySteps:     {MaxItems: 2000, Retention: 30 * day, TimestampField: "timestamp"},
	PageMetrics:      {MaxItems: 500, Retention: 30 * day, TimestampField: "entryTime"},
	BehaviorPatterns: {MaxItems: 100, Retention: 30 * day, TimestampField: "computedAt"},
	Conversions:      {MaxItems: 500, Retention: 365 * day, TimestampField: "timestamp"},
	Touchpoints:      {MaxItems: 200, Retention: 90 * day, TimestampField: "timestamp"},
	ABTests:          {MaxItems: 100, Retention: 90 * day, TimestampField: "assignedAt"},
	Retargeting:      {MaxItems: 200, Retention: 60 * day, TimestampField: "timestamp"},
}

// OptimizeThreshold is the total size above which Optimize trims.
const OptimizeThreshold = 4 * 1024 * 1024

// Manager is the persistence facade shared by every engine for one visitor.
type Manager struct {
	kv       kvstore.Store
	policies map[DataType]Policy
	now      func() time.Time
}

type ManagerOption func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func WithPolicy(dt DataType, p Policy) ManagerOption {
	return func(m *Manager) { m.policies[dt] = p }
}

func NewManager(kv kvstore.Store, opts ...ManagerOption) *Manager {
	m := &Manager{kv: kv, policies: make(map[DataType]Policy, len(DefaultPolicies)), now: time.Now}
	for dt, p := range DefaultPolicies {
		m.policies[dt] = p
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Now() time.Time { return m.now() }

func (m *Manager) KV() kvstore.Store { return m.kv }

func (m *Manager) Policy(dt DataType) Policy { return m.policies[dt] }

// GetObject reads a single-object key; false when missing or unreadable.
func (m *Manager) GetObject(ctx context.Context, key string, dst any) (bool, error) {
	return kvstore.GetJSON(ctx, m.kv, key, dst)
}

func (m *Manager) SetObject(ctx context.Context, key string, v any) error {
	return kvstore.SetJSON(ctx, m.kv, key, v)
}

func (m *Manager) Remove(ctx context.Context, key string) error {
	return m.kv.Remove(ctx, key)
}

// Collection binds a data type to its record type and timestamp accessor.
type Collection[T any] struct {
	Type DataType
	Time func(T) time.Time
}

var (
	SessionCollection = Collection[models.Session]{
		Type: Sessions, Time: func(s models.Session) time.Time { return s.LastVisit },
	}
	EventCollection = Collection[models.AnalyticsEvent]{
		Type: Events, Time: func(e models.AnalyticsEvent) time.Time { return e.Timestamp },
	}
	StepCollection = Collection[models.JourneyStep]{
		Type: JourneySteps, Time: func(s models.JourneyStep) time.Time { return s.Timestamp },
	}
	PageCollection = Collection[models.PageMetrics]{
		Type: PageMetrics, Time: func(p models.PageMetrics) time.Time { return p.EntryTime },
	}
	PatternCollection = Collection[models.BehaviorPattern]{
		Type: BehaviorPatterns, Time: func(b models.BehaviorPattern) time.Time { return b.ComputedAt },
	}
	ConversionCollection = Collection[models.ConversionEvent]{
		Type: Conversions, Time: func(c models.ConversionEvent) time.Time { return c.Timestamp },
	}
	TouchpointCollection = Collection[models.Touchpoint]{
		Type: Touchpoints, Time: func(t models.Touchpoint) time.Time { return t.Timestamp },
	}
	AssignmentCollection = Collection[models.ExperimentAssignment]{
		Type: ABTests, Time: func(a models.ExperimentAssignment) time.Time { return a.AssignedAt },
	}
	RetargetingCollection = Collection[models.RetargetingRecord]{
		Type: Retargeting, Time: func(r models.RetargetingRecord) time.Time { return r.Timestamp },
	}
)

// Load returns the stored records, oldest first. Unreadable data loads as an
// empty collection.
func (c Collection[T]) Load(ctx context.Context, m *Manager) ([]T, error) {
	var items []T
	if _, err := kvstore.GetJSON(ctx, m.kv, string(c.Type), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Save applies the retention policy and writes what is left. It returns the
// records that were kept.
func (c Collection[T]) Save(ctx context.Context, m *Manager, items []T) ([]T, error) {
	kept := c.retain(m, items)
	if err := kvstore.SetJSON(ctx, m.kv, string(c.Type), kept); err != nil {
		return nil, err
	}
	return kept, nil
}

// Append loads, appends and saves.
func (c Collection[T]) Append(ctx context.Context, m *Manager, items ...T) error {
	existing, err := c.Load(ctx, m)
	if err != nil {
		return err
	}
	_, err = c.Save(ctx, m, append(existing, items...))
	return err
}

func (c Collection[T]) retain(m *Manager, items []T) []T {
	policy, ok := m.policies[c.Type]
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return c.Time(sorted[i]).Before(c.Time(sorted[j]))
	})
	if !ok {
		return sorted
	}

	kept := sorted[:0]
	if policy.Retention > 0 {
		cutoff := m.now().Add(-policy.Retention)
		for _, item := range sorted {
			if !c.Time(item).Before(cutoff) {
				kept = append(kept, item)
			}
		}
	} else {
		kept = sorted
	}

	if policy.MaxItems > 0 && len(kept) > policy.MaxItems {
		kept = kept[len(kept)-policy.MaxItems:]
	}
	return kept
}

// ExportDocument is the whole store as one JSON document.
type ExportDocument struct {
	ExportedAt time.Time                  `json:"exportedAt"`
	Data       map[string]json.RawMessage `json:"data"`
}

// Export snapshots every key whose value is valid JSON.
func (m *Manager) Export(ctx context.Context) (*ExportDocument, error) {
	keys, err := m.kv.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys for export: %w", err)
	}
	doc := &ExportDocument{ExportedAt: m.now(), Data: make(map[string]json.RawMessage, len(keys))}
	for _, k := range keys {
		raw, ok, err := m.kv.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("failed to export %q: %w", k, err)
		}
		if !ok || !json.Valid([]byte(raw)) {
			continue
		}
		doc.Data[k] = json.RawMessage(raw)
	}
	return doc, nil
}

// Import writes every key of doc, replacing existing values.
func (m *Manager) Import(ctx context.Context, doc *ExportDocument) error {
	if doc == nil {
		return nil
	}
	keys := make([]string, 0, len(doc.Data))
	for k := range doc.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := m.kv.Set(ctx, k, string(doc.Data[k])); err != nil {
			return fmt.Errorf("failed to import %q: %w", k, err)
		}
	}
	return nil
}

// Clear removes every key.
func (m *Manager) Clear(ctx context.Context) error {
	keys, err := m.kv.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := m.kv.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// CollectionStats describes one collection's footprint.
type CollectionStats struct {
	Type  DataType `json:"type"`
	Count int      `json:"count"`
	Bytes int      `json:"bytes"`
}

type StorageStats struct {
	TotalBytes  int               `json:"totalBytes"`
	Collections []CollectionStats `json:"collections"`
}

func (m *Manager) Stats(ctx context.Context) (*StorageStats, error) {
	total, err := m.kv.Size(ctx)
	if err != nil {
		return nil, err
	}
	stats := &StorageStats{TotalBytes: total}
	for _, dt := range m.dataTypes() {
		raw, ok, err := m.kv.Get(ctx, string(dt))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			continue
		}
		stats.Collections = append(stats.Collections, CollectionStats{Type: dt, Count: len(items), Bytes: len(raw)})
	}
	return stats, nil
}

// Optimize halves the three largest collections, keeping their newest
// records, when the store is above OptimizeThreshold. Conversions are never
// trimmed and a single record is always kept. It reports whether anything
// was trimmed.
func (m *Manager) Optimize(ctx context.Context) (bool, error) {
	stats, err := m.Stats(ctx)
	if err != nil {
		return false, err
	}
	if stats.TotalBytes <= OptimizeThreshold {
		return false, nil
	}

	var largest []CollectionStats
	for _, c := range stats.Collections {
		if c.Type != Conversions && c.Count > 1 {
			largest = append(largest, c)
		}
	}
	sort.Slice(largest, func(i, j int) bool { return largest[i].Bytes > largest[j].Bytes })
	if len(largest) > 3 {
		largest = largest[:3]
	}

	for _, c := range largest {
		raw, ok, err := m.kv.Get(ctx, string(c.Type))
		if err != nil || !ok {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			continue
		}
		// collections are stored oldest first
		trimmed := items[len(items)/2:]
		data, err := json.Marshal(trimmed)
		if err != nil {
			return false, err
		}
		if err := m.kv.Set(ctx, string(c.Type), string(data)); err != nil {
			return false, fmt.Errorf("failed to trim %s: %w", c.Type, err)
		}
		log.Debug().Str("collection", string(c.Type)).Int("before", len(items)).Int("after", len(trimmed)).Msg("Trimmed collection")
	}
	return len(largest) > 0, nil
}

func (m *Manager) dataTypes() []DataType {
	types := make([]DataType, 0, len(m.policies))
	for dt := range m.policies {
		types = append(types, dt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
