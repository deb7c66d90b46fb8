// Package segmentation scores visitors against weighted segment definitions.
package segmentation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"edumarket/api/models"
	"edumarket/api/rules"
	"edumarket/api/store"
)

// Threshold is the score a segment must exceed to be kept.
const Threshold = 0.3

type segment struct {
	def      models.SegmentDefinition
	criteria []rules.Criterion
}

// Engine holds the segment table. It is shared by every visitor.
type Engine struct {
	mu       sync.RWMutex
	segments map[string]segment
}

// NewEngine compiles defs. Use DefaultSegments for the built-in table.
func NewEngine(defs []models.SegmentDefinition) (*Engine, error) {
	e := &Engine{segments: make(map[string]segment, len(defs))}
	for _, d := range defs {
		if err := e.Add(d); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Add registers a new segment; the id must be unused.
func (e *Engine) Add(def models.SegmentDefinition) error {
	return e.put(def, false)
}

// Update replaces an existing segment.
func (e *Engine) Update(def models.SegmentDefinition) error {
	return e.put(def, true)
}

func (e *Engine) Remove(id string) {
	e.mu.Lock()
	delete(e.segments, id)
	e.mu.Unlock()
}

func (e *Engine) Definition(id string) (models.SegmentDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.segments[id]
	return s.def, ok
}

// Definitions lists the table ordered by id.
func (e *Engine) Definitions() []models.SegmentDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.SegmentDefinition, 0, len(e.segments))
	for _, s := range e.segments {
		out = append(out, s.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) put(def models.SegmentDefinition, replace bool) error {
	if def.ID == "" {
		return fmt.Errorf("segment id is required")
	}
	criteria, err := rules.CompileAll(def.Criteria)
	if err != nil {
		return fmt.Errorf("segment %s: %w", def.ID, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, exists := e.segments[def.ID]
	switch {
	case replace && !exists:
		return fmt.Errorf("segment %q not found", def.ID)
	case !replace && exists:
		return fmt.Errorf("segment %q already exists", def.ID)
	}
	e.segments[def.ID] = segment{def: def, criteria: criteria}
	return nil
}

// Evaluate scores every segment against f. The result depends only on f and
// the table.
func (e *Engine) Evaluate(f rules.Facts) models.UserSegments {
	e.mu.RLock()
	matches := make([]models.SegmentMatch, 0, len(e.segments))
	for _, s := range e.segments {
		res := rules.Score(s.criteria, f)
		if res.Score <= Threshold {
			continue
		}
		matches = append(matches, models.SegmentMatch{
			SegmentID:       s.def.ID,
			Name:            s.def.Name,
			Score:           res.Score,
			Confidence:      0.7*res.Score + 0.3*res.MatchRatio(),
			MatchedCriteria: res.Matched,
			Priority:        s.def.Priority,
		})
	}
	e.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.SegmentID < b.SegmentID
	})

	out := models.UserSegments{Matches: matches, ComputedAt: f.Now}
	if f.Session != nil {
		out.SessionID = f.Session.ID
	}
	if len(matches) > 0 {
		out.Primary = matches[0].SegmentID
	}
	return out
}

// Assign evaluates f and caches the assignment in the visitor's store.
func (e *Engine) Assign(ctx context.Context, m *store.Manager, f rules.Facts) (models.UserSegments, error) {
	segs := e.Evaluate(f)
	if err := m.SetObject(ctx, store.KeySegments, segs); err != nil {
		return segs, fmt.Errorf("failed to cache segments: %w", err)
	}
	return segs, nil
}

// Cached returns the last stored assignment.
func Cached(ctx context.Context, m *store.Manager) (models.UserSegments, error) {
	var segs models.UserSegments
	_, err := m.GetObject(ctx, store.KeySegments, &segs)
	return segs, err
}
