// Package abtest assigns visitors to experiment variants and decides winners
// with a two-proportion z-test.
package abtest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"edumarket/api/models"
	"edumarket/api/rules"
	"edumarket/api/store"
)

// Confidence required to declare a winner.
const Confidence = 0.95

// TargetingThreshold is the targeting score a visitor needs to enter.
const TargetingThreshold = 0.5

var ErrNotFound = errors.New("experiment not found")

type experiment struct {
	models.Experiment
	targeting []rules.Criterion
}

// Engine holds experiments and their counters, shared by all visitors.
type Engine struct {
	mu          sync.RWMutex
	experiments map[string]*experiment
}

func NewEngine(exps []models.Experiment) (*Engine, error) {
	e := &Engine{experiments: make(map[string]*experiment, len(exps))}
	for _, x := range exps {
		if err := e.Add(x); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) Add(x models.Experiment) error {
	if len(x.Variants) == 0 {
		return fmt.Errorf("experiment %s has no variants", x.ID)
	}
	criteria, err := rules.CompileAll(x.Targeting)
	if err != nil {
		return fmt.Errorf("experiment %s: %w", x.ID, err)
	}
	if x.Status == "" {
		x.Status = models.ExperimentRunning
	}
	x.Variants = append([]models.Variant(nil), x.Variants...)
	e.mu.Lock()
	e.experiments[x.ID] = &experiment{Experiment: x, targeting: criteria}
	e.mu.Unlock()
	return nil
}

// Experiment returns a snapshot of the experiment and its counters.
func (e *Engine) Experiment(id string) (models.Experiment, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	x, ok := e.experiments[id]
	if !ok {
		return models.Experiment{}, false
	}
	return snapshot(x), true
}

func (e *Engine) Experiments() []models.Experiment {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Experiment, 0, len(e.experiments))
	for _, x := range e.experiments {
		out = append(out, snapshot(x))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func snapshot(x *experiment) models.Experiment {
	cp := x.Experiment
	cp.Variants = append([]models.Variant(nil), x.Variants...)
	return cp
}

// Assign returns the visitor's variant, assigning one on first exposure. The
// bucket is a hash of visitor and experiment, so the same visitor always
// lands in the same variant. A nil variant means the visitor is not in the
// experiment.
func (e *Engine) Assign(ctx context.Context, m *store.Manager, visitorID string, f rules.Facts, expID string) (*models.Variant, error) {
	e.mu.RLock()
	x, ok := e.experiments[expID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	assignments, err := store.AssignmentCollection.Load(ctx, m)
	if err != nil {
		return nil, err
	}
	for _, a := range assignments {
		if a.ExperimentID == expID {
			return e.variant(expID, a.VariantID), nil
		}
	}

	if x.Status != models.ExperimentRunning {
		return nil, nil
	}
	if len(x.targeting) > 0 && rules.Score(x.targeting, f).Score < TargetingThreshold {
		return nil, nil
	}

	e.mu.Lock()
	v := &x.Variants[Bucket(visitorID, expID, x.Variants)]
	v.Performance.Impressions++
	chosen := *v
	e.mu.Unlock()

	sessionID := ""
	if f.Session != nil {
		sessionID = f.Session.ID
	}
	a := models.ExperimentAssignment{ExperimentID: expID, VariantID: chosen.ID, SessionID: sessionID, AssignedAt: m.Now()}
	if err := store.AssignmentCollection.Append(ctx, m, a); err != nil {
		return &chosen, fmt.Errorf("failed to save assignment: %w", err)
	}
	log.Debug().Str("experiment", expID).Str("variant", chosen.ID).Str("visitor_id", visitorID).Msg("Visitor assigned")
	return &chosen, nil
}

// Bucket maps visitor and experiment onto a variant index by weight.
func Bucket(visitorID, expID string, variants []models.Variant) int {
	h := fnv.New32a()
	h.Write([]byte(visitorID + ":" + expID))
	point := float64(h.Sum32()%10000) / 10000

	total := 0.0
	for _, v := range variants {
		total += weight(v)
	}
	acc := 0.0
	for i, v := range variants {
		acc += weight(v) / total
		if point < acc {
			return i
		}
	}
	return len(variants) - 1
}

func weight(v models.Variant) float64 {
	if v.Weight <= 0 {
		return 1
	}
	return v.Weight
}

// Convert records a conversion for the visitor's variant. Repeat conversions
// of the same visitor are ignored.
func (e *Engine) Convert(ctx context.Context, m *store.Manager, expID string) (bool, error) {
	assignments, err := store.AssignmentCollection.Load(ctx, m)
	if err != nil {
		return false, err
	}
	idx := -1
	for i, a := range assignments {
		if a.ExperimentID == expID {
			idx = i
			break
		}
	}
	if idx < 0 || assignments[idx].Converted {
		return false, nil
	}
	assignments[idx].Converted = true
	if _, err := store.AssignmentCollection.Save(ctx, m, assignments); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if x, ok := e.experiments[expID]; ok {
		for i := range x.Variants {
			if x.Variants[i].ID == assignments[idx].VariantID {
				x.Variants[i].Performance.Conversions++
			}
		}
	}
	return true, nil
}

// RecordClick counts a click on the visitor's variant. It reports false when
// the visitor was never assigned to the experiment.
func (e *Engine) RecordClick(ctx context.Context, m *store.Manager, expID string) (bool, error) {
	if _, ok := e.Experiment(expID); !ok {
		return false, ErrNotFound
	}
	assignments, err := store.AssignmentCollection.Load(ctx, m)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		if a.ExperimentID != expID {
			continue
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if x, ok := e.experiments[expID]; ok {
			for i := range x.Variants {
				if x.Variants[i].ID == a.VariantID {
					x.Variants[i].Performance.Clicks++
				}
			}
		}
		return true, nil
	}
	return false, nil
}

func (e *Engine) variant(expID, variantID string) *models.Variant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	x, ok := e.experiments[expID]
	if !ok {
		return nil
	}
	for _, v := range x.Variants {
		if v.ID == variantID {
			cp := v
			return &cp
		}
	}
	return nil
}

// Results compares each variant with the control and records the winner, if
// any variant beats the control at Confidence.
func (e *Engine) Results(expID string) (models.ExperimentResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	x, ok := e.experiments[expID]
	if !ok {
		return models.ExperimentResult{}, ErrNotFound
	}

	control := x.Variants[0]
	for _, v := range x.Variants {
		if v.Control {
			control = v
			break
		}
	}

	res := models.ExperimentResult{ExperimentID: expID, Control: control.ID}
	bestRate := control.Performance.ConversionRate()
	for _, v := range x.Variants {
		if v.ID == control.ID {
			continue
		}
		vr := Compare(control.Performance, v.Performance)
		vr.VariantID = v.ID
		res.Variants = append(res.Variants, vr)
		if vr.Significant && vr.ConversionRate > bestRate {
			res.Winner, bestRate = v.ID, vr.ConversionRate
		}
	}
	x.Winner = res.Winner
	return res, nil
}

// Compare runs a two-sided two-proportion z-test of variant against control.
func Compare(control, variant models.Performance) models.VariantResult {
	p1, p2 := control.ConversionRate(), variant.ConversionRate()
	r := models.VariantResult{ConversionRate: p2, PValue: 1}
	if p1 > 0 {
		r.Lift = (p2 - p1) / p1
	}
	n1, n2 := float64(control.Impressions), float64(variant.Impressions)
	if n1 == 0 || n2 == 0 {
		return r
	}
	pooled := float64(control.Conversions+variant.Conversions) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return r
	}
	r.ZScore = (p2 - p1) / se
	r.PValue = math.Erfc(math.Abs(r.ZScore) / math.Sqrt2)
	r.Confidence = 1 - r.PValue
	r.Significant = r.Confidence >= Confidence
	return r
}

// DefaultExperiments are the experiments running on the site.
func DefaultExperiments() []models.Experiment {
	return []models.Experiment{
		{
			ID:     "hero_headline",
			Name:   "Homepage hero headline",
			Status: models.ExperimentRunning,
			GoalID: "enrollment",
			Variants: []models.Variant{
				{ID: "control", Name: "Learn to code", Weight: 1, Control: true, Content: map[string]any{"headline": "Learn to code"}},
				{ID: "outcome", Name: "Career outcome", Weight: 1, Content: map[string]any{"headline": "Get hired as a developer"}},
				{ID: "urgency", Name: "Urgency", Weight: 1, Content: map[string]any{"headline": "Next cohort starts Monday"}},
			},
		},
		{
			ID:     "pricing_layout",
			Name:   "Pricing page layout",
			Status: models.ExperimentRunning,
			GoalID: "enrollment",
			Targeting: []models.Condition{
				{Field: "behavior.pricing_views", Operator: "greater_than", Value: 0, Weight: 1},
			},
			Variants: []models.Variant{
				{ID: "table", Name: "Comparison table", Weight: 1, Control: true},
				{ID: "cards", Name: "Plan cards", Weight: 1},
			},
		},
	}
}
