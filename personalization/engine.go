// Package personalization picks slot content, recommendations and messages
// for a visitor from their segments, campaign and behavior.
package personalization

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"edumarket/api/events"
	"edumarket/api/models"
	"edumarket/api/rules"
	"edumarket/api/store"
)

var ErrUnknownVariation = errors.New("unknown variation")

// RuleThreshold is the weighted score at which a rule applies.
const RuleThreshold = 0.5

// RecommendationThreshold is the score a catalog item must exceed.
const RecommendationThreshold = 0.3

type rule struct {
	models.PersonalizationRule
	criteria []rules.Criterion
}

// Engine holds rules, variations and the catalog shared by all visitors.
// Variation counters are updated in place.
type Engine struct {
	mu         sync.RWMutex
	rules      []rule
	variations map[string]*models.ContentVariation
	catalog    []models.CatalogItem
	messages   map[string]map[string]string
	pub        events.Publisher
}

type Option func(*Engine)

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

func WithCatalog(items []models.CatalogItem) Option {
	return func(e *Engine) { e.catalog = items }
}

func WithMessages(m map[string]map[string]string) Option {
	return func(e *Engine) { e.messages = m }
}

func NewEngine(rs []models.PersonalizationRule, vs []models.ContentVariation, opts ...Option) (*Engine, error) {
	e := &Engine{
		variations: make(map[string]*models.ContentVariation, len(vs)),
		catalog:    DefaultCatalog(),
		messages:   DefaultMessages(),
		pub:        events.Discard,
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, r := range rs {
		criteria, err := rules.CompileAll(r.Conditions)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		e.rules = append(e.rules, rule{PersonalizationRule: r, criteria: criteria})
	}
	sort.SliceStable(e.rules, func(i, j int) bool { return e.rules[i].Priority < e.rules[j].Priority })
	for i := range vs {
		v := vs[i]
		e.variations[v.ID] = &v
	}
	return e, nil
}

// Personalize overlays matching rules and the best variation for slot onto
// defaults. The result is cached per slot in the visitor's store.
func (e *Engine) Personalize(ctx context.Context, m *store.Manager, f rules.Facts, slot string, defaults map[string]any) (models.PersonalizedContent, error) {
	out := models.PersonalizedContent{Slot: slot, Content: make(map[string]any, len(defaults)), GeneratedAt: m.Now()}
	for k, v := range defaults {
		out.Content[k] = v
	}

	for _, r := range e.rules {
		if r.Slot != slot {
			continue
		}
		if rules.Score(r.criteria, f).Score < RuleThreshold {
			continue
		}
		for k, v := range r.Content {
			out.Content[k] = v
		}
		out.AppliedRules = append(out.AppliedRules, r.ID)
	}

	if v := e.pickVariation(slot, f.Segments); v != nil {
		for k, val := range v.Content {
			out.Content[k] = val
		}
		out.VariationID = v.ID
	}

	conf := 0.2 * float64(len(out.AppliedRules))
	if out.VariationID != "" {
		conf += 0.3
	}
	out.Confidence = min(conf, 1)

	cache := make(map[string]models.PersonalizedContent)
	if _, err := m.GetObject(ctx, store.KeyPersonalization, &cache); err != nil {
		return out, err
	}
	if cache == nil {
		cache = make(map[string]models.PersonalizedContent)
	}
	cache[slot] = out
	if err := m.SetObject(ctx, store.KeyPersonalization, cache); err != nil {
		return out, fmt.Errorf("failed to cache personalization: %w", err)
	}
	return out, nil
}

// pickVariation chooses the variation sharing the most segments with the
// visitor, then the best conversion rate, and counts the impression.
func (e *Engine) pickVariation(slot string, segs models.UserSegments) *models.ContentVariation {
	e.mu.Lock()
	defer e.mu.Unlock()

	var best *models.ContentVariation
	bestHits := 0
	for _, v := range e.variations {
		if v.Slot != slot {
			continue
		}
		hits := 0
		for _, s := range v.Segments {
			if segs.Has(s) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		switch {
		case best == nil, hits > bestHits:
		case hits == bestHits && v.ConversionRate() > best.ConversionRate():
		case hits == bestHits && v.ConversionRate() == best.ConversionRate() && v.ID < best.ID:
		default:
			continue
		}
		best, bestHits = v, hits
	}
	if best == nil {
		return nil
	}
	best.Impressions++
	cp := *best
	return &cp
}

// RecordConversion credits a variation and publishes the conversion.
func (e *Engine) RecordConversion(ctx context.Context, variationID string, value float64) error {
	e.mu.Lock()
	v, ok := e.variations[variationID]
	if ok {
		v.Conversions++
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownVariation, variationID)
	}
	e.pub.Publish(ctx, events.Event{
		Name: events.PersonalizationConversion,
		Data: map[string]any{"variationId": variationID, "slot": v.Slot, "value": value},
	})
	return nil
}

// Variations returns a snapshot of the variation counters, ordered by id.
func (e *Engine) Variations() []models.ContentVariation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.ContentVariation, 0, len(e.variations))
	for _, v := range e.variations {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Recommend scores the catalog for the visitor and returns the items above
// RecommendationThreshold, best first. limit <= 0 returns all.
func (e *Engine) Recommend(f rules.Facts, limit int) []models.Recommendation {
	campaign := ""
	if f.Session != nil {
		campaign = strings.ToLower(f.Session.LatestParams.Campaign)
		if campaign == "" {
			campaign = strings.ToLower(f.Session.OriginalParams.Campaign)
		}
	}

	var out []models.Recommendation
	for _, item := range e.catalog {
		r := models.Recommendation{Item: item}
		for _, s := range item.TargetSegments {
			if f.Segments.Has(s) {
				r.Score += 0.4
				r.Reasons = append(r.Reasons, "segment:"+s)
				break
			}
		}
		if campaign != "" && campaignMatches(campaign, item) {
			r.Score += 0.3
			r.Reasons = append(r.Reasons, "campaign")
		}
		if f.Preferences != nil && f.Preferences.Categories[item.Category] > 0 {
			r.Score += 0.2
			r.Reasons = append(r.Reasons, "preferred_category")
		}
		if formatFits(item, f) {
			r.Score += 0.1
			r.Reasons = append(r.Reasons, "format")
		}
		if r.Score > RecommendationThreshold+1e-9 {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func campaignMatches(campaign string, item models.CatalogItem) bool {
	if strings.Contains(campaign, strings.ToLower(item.Category)) {
		return true
	}
	for _, k := range item.Keywords {
		if k != "" && strings.Contains(campaign, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func formatFits(item models.CatalogItem, f rules.Facts) bool {
	if f.Preferences != nil && f.Preferences.Formats[item.Format] > 0 {
		return true
	}
	if f.Session == nil {
		return false
	}
	switch f.Session.Device.Type {
	case "mobile":
		return item.Format == "video" || item.Format == "webinar"
	case "desktop":
		return item.Format == "course" || item.Format == "bootcamp"
	}
	return false
}

// RecordInterest counts a category/format view in the visitor's preferences.
func RecordInterest(ctx context.Context, m *store.Manager, category, format string) (*models.Preferences, error) {
	prefs, err := LoadPreferences(ctx, m)
	if err != nil {
		return nil, err
	}
	if category != "" {
		prefs.Categories[category]++
	}
	if format != "" {
		prefs.Formats[format]++
	}
	prefs.UpdatedAt = m.Now()
	return prefs, m.SetObject(ctx, store.KeyPreferences, prefs)
}

func LoadPreferences(ctx context.Context, m *store.Manager) (*models.Preferences, error) {
	var prefs models.Preferences
	if _, err := m.GetObject(ctx, store.KeyPreferences, &prefs); err != nil {
		return nil, err
	}
	if prefs.Categories == nil {
		prefs.Categories = make(map[string]int)
	}
	if prefs.Formats == nil {
		prefs.Formats = make(map[string]int)
	}
	return &prefs, nil
}

// Message renders the template of kind for the visitor's first segment that
// has one, falling back to the kind's default.
func (e *Engine) Message(kind string, f rules.Facts) (string, bool) {
	templates, ok := e.messages[kind]
	if !ok {
		return "", false
	}
	tmpl, found := "", false
	for _, id := range f.Segments.IDs() {
		if t, ok := templates[id]; ok {
			tmpl, found = t, true
			break
		}
	}
	if !found {
		if tmpl, found = templates["default"]; !found {
			return "", false
		}
	}

	campaign, source, visits := "our", f.Traffic.Source, "1"
	if f.Session != nil {
		if c := f.Session.LatestParams.Campaign; c != "" {
			campaign = c
		}
		visits = strconv.Itoa(f.Session.VisitCount)
	}
	if source == "" {
		source = "the web"
	}
	r := strings.NewReplacer("{campaign}", campaign, "{source}", source, "{visits}", visits)
	return r.Replace(tmpl), true
}
