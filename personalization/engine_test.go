package personalization

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edumarket/api/events"
	"edumarket/api/kvstore"
	"edumarket/api/models"
	"edumarket/api/rules"
	"edumarket/api/store"
)

var now = time.Date(2026, 10, 1, 20, 0, 0, 0, time.UTC)

func segments(ids ...string) models.UserSegments {
	var u models.UserSegments
	for _, id := range ids {
		u.Matches = append(u.Matches, models.SegmentMatch{SegmentID: id, Score: 0.9})
	}
	if len(ids) > 0 {
		u.Primary = ids[0]
	}
	return u
}

func facts(segs models.UserSegments) rules.Facts {
	return rules.Facts{
		Session: &models.Session{
			ID:           "s1",
			VisitCount:   3,
			LatestParams: models.UTMParams{Source: "google", Medium: "cpc", Campaign: "python-career-switch"},
			Device:       models.DeviceInfo{Type: "desktop"},
		},
		Traffic:  models.TrafficSource{Type: models.TrafficPaid, Source: "google"},
		Segments: segs,
		Page:     "/",
		Now:      now,
	}
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultRules(), DefaultVariations(), opts...)
	require.NoError(t, err)
	return e
}

func TestPersonalizeAppliesRulesInPriorityOrder(t *testing.T) {
	ctx := context.Background()
	m := store.NewManager(kvstore.NewMemory(0))
	e := newEngine(t)

	defaults := map[string]any{"headline": "Learn to code", "cta": "Browse"}
	out, err := e.Personalize(ctx, m, facts(segments("paid_searcher", "career_changer")), "hero", defaults)
	require.NoError(t, err)

	assert.Equal(t, []string{"hero_paid", "hero_career"}, out.AppliedRules)
	// hero_career has the higher priority value and is applied last
	assert.Equal(t, "Change careers without quitting your job", out.Content["headline"])
	assert.Equal(t, "hero_roi", out.VariationID)
	assert.Equal(t, "Graduates report a 42% salary increase", out.Content["stat"])
	assert.InDelta(t, 0.7, out.Confidence, 1e-9)
	assert.Equal(t, "Learn to code", defaults["headline"], "defaults are not mutated")

	var cached map[string]models.PersonalizedContent
	found, err := m.GetObject(ctx, store.KeyPersonalization, &cached)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, out.AppliedRules, cached["hero"].AppliedRules)
}

func TestPersonalizeWithoutMatchesKeepsDefaults(t *testing.T) {
	m := store.NewManager(kvstore.NewMemory(0))
	e := newEngine(t)

	f := facts(models.UserSegments{})
	f.Traffic = models.TrafficSource{Type: models.TrafficDirect}
	out, err := e.Personalize(context.Background(), m, f, "hero", map[string]any{"headline": "Learn to code"})
	require.NoError(t, err)
	assert.Empty(t, out.AppliedRules)
	assert.Empty(t, out.VariationID)
	assert.Zero(t, out.Confidence)
	assert.Equal(t, "Learn to code", out.Content["headline"])
}

func TestVariationTieBrokenByConversionRate(t *testing.T) {
	ctx := context.Background()
	m := store.NewManager(kvstore.NewMemory(0))
	rec := &events.Recorder{}
	e, err := NewEngine(nil, []models.ContentVariation{
		{ID: "a", Slot: "pricing", Segments: []string{"price_sensitive"}, Impressions: 10, Conversions: 1},
		{ID: "b", Slot: "pricing", Segments: []string{"price_sensitive"}, Impressions: 10, Conversions: 3},
	}, WithPublisher(rec))
	require.NoError(t, err)

	out, err := e.Personalize(ctx, m, facts(segments("price_sensitive")), "pricing", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", out.VariationID)
	assert.InDelta(t, 0.3, out.Confidence, 1e-9)

	require.NoError(t, e.RecordConversion(ctx, "b", 10))
	assert.Error(t, e.RecordConversion(ctx, "zzz", 0))
	vs := e.Variations()
	assert.Equal(t, 11, vs[1].Impressions)
	assert.Equal(t, 4, vs[1].Conversions)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, events.PersonalizationConversion, rec.Events()[0].Name)
}

func TestRecommendScoring(t *testing.T) {
	e := newEngine(t)
	f := facts(segments("career_changer"))
	f.Preferences = &models.Preferences{Categories: map[string]int{"data-science": 2}, Formats: map[string]int{}}

	recs := e.Recommend(f, 0)
	require.NotEmpty(t, recs)

	// segment + campaign ("career") + desktop bootcamp
	assert.Equal(t, "web-dev-bootcamp", recs[0].Item.ID)
	assert.InDelta(t, 0.8, recs[0].Score, 1e-9)
	for i, r := range recs {
		assert.Greater(t, r.Score, RecommendationThreshold)
		if i > 0 {
			assert.GreaterOrEqual(t, recs[i-1].Score, r.Score)
		}
	}

	ids := map[string]float64{}
	for _, r := range recs {
		ids[r.Item.ID] = r.Score
	}
	// campaign "python" + preferred category + desktop course
	assert.InDelta(t, 0.6, ids["data-science"], 1e-9)
	// a format fit alone is not enough
	_, ok := ids["ux-design"]
	assert.False(t, ok)
	// campaign match alone sits exactly on the threshold
	_, ok = ids["career-webinar"]
	assert.False(t, ok)

	assert.Len(t, e.Recommend(f, 2), 2)
}

func TestPreferencesAccumulate(t *testing.T) {
	ctx := context.Background()
	m := store.NewManager(kvstore.NewMemory(0))

	_, err := RecordInterest(ctx, m, "cloud", "course")
	require.NoError(t, err)
	prefs, err := RecordInterest(ctx, m, "cloud", "")
	require.NoError(t, err)
	assert.Equal(t, 2, prefs.Categories["cloud"])
	assert.Equal(t, 1, prefs.Formats["course"])

	loaded, err := LoadPreferences(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, prefs.Categories, loaded.Categories)
}

func TestMessageTemplates(t *testing.T) {
	e := newEngine(t)

	msg, ok := e.Message("welcome", facts(segments("returning_researcher")))
	require.True(t, ok)
	assert.Equal(t, "Welcome back! This is visit number 3", msg)

	msg, ok = e.Message("exit", facts(segments("paid_searcher")))
	require.True(t, ok)
	assert.Equal(t, "Leaving already? Your python-career-switch offer is still open", msg)

	msg, ok = e.Message("cta", facts(segments("mobile_learner")))
	require.True(t, ok)
	assert.Equal(t, "Explore courses", msg)

	_, ok = e.Message("banner", facts(segments()))
	assert.False(t, ok)
}
