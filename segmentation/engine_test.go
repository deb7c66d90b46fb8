package segmentation

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edumarket/api/kvstore"
	"edumarket/api/models"
	"edumarket/api/rules"
	"edumarket/api/store"
)

// Thursday morning
var now = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func paidFacts() rules.Facts {
	return rules.Facts{
		Session: &models.Session{
			ID:           "s1",
			FirstVisit:   now,
			VisitCount:   1,
			LatestParams: models.UTMParams{Source: "google", Medium: "cpc", Campaign: "fall-intake"},
			Device:       models.DeviceInfo{Type: "desktop"},
		},
		Traffic: models.TrafficSource{Type: models.TrafficPaid, Source: "google", Medium: "cpc"},
		Now:     now,
	}
}

func TestPaidVisitorIsPaidSearcher(t *testing.T) {
	e, err := NewEngine(DefaultSegments())
	require.NoError(t, err)

	segs := e.Evaluate(paidFacts())
	require.NotEmpty(t, segs.Matches)
	assert.Equal(t, "paid_searcher", segs.Primary)
	assert.Equal(t, "s1", segs.SessionID)

	top := segs.Matches[0]
	assert.InDelta(t, 1.0, top.Score, 1e-9)
	assert.InDelta(t, 1.0, top.Confidence, 1e-9)
	assert.Len(t, top.MatchedCriteria, 3)
	for _, m := range segs.Matches {
		assert.Greater(t, m.Score, Threshold)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e, err := NewEngine(DefaultSegments())
	require.NoError(t, err)

	f := paidFacts()
	f.Behavior = &models.BehaviorPattern{
		PageViews: 7, PricingViews: 2, FormSubmits: 1, IntentScore: 0.8,
		EngagementLevel: models.EngagementHigh, EngagementScore: 0.6,
	}
	f.Session.VisitCount = 4

	first := e.Evaluate(f)
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(first, e.Evaluate(f)); diff != "" {
			t.Fatalf("evaluation %d differs (-first +got):\n%s", i, diff)
		}
	}
	assert.Equal(t, "high_intent_prospect", first.Primary)
	assert.True(t, first.Has("paid_searcher"))
	assert.True(t, first.Has("returning_researcher"))
}

func TestPriorityBreaksScoreTies(t *testing.T) {
	defs := []models.SegmentDefinition{
		{ID: "low", Priority: 1, Criteria: []models.Condition{cond("traffic.type", "equals", "paid", 1)}},
		{ID: "high", Priority: 5, Criteria: []models.Condition{cond("traffic.type", "equals", "paid", 1)}},
	}
	e, err := NewEngine(defs)
	require.NoError(t, err)

	segs := e.Evaluate(paidFacts())
	assert.Equal(t, []string{"high", "low"}, segs.IDs())
	assert.Equal(t, "high", segs.Primary)
}

func TestMissingFactsScoreZero(t *testing.T) {
	e, err := NewEngine(DefaultSegments())
	require.NoError(t, err)

	segs := e.Evaluate(rules.Facts{})
	assert.Empty(t, segs.Matches)
	assert.Empty(t, segs.Primary)
}

func TestTableMaintenance(t *testing.T) {
	e, err := NewEngine(DefaultSegments())
	require.NoError(t, err)
	assert.Len(t, e.Definitions(), 10)

	dup := models.SegmentDefinition{ID: "paid_searcher"}
	assert.Error(t, e.Add(dup))
	assert.Error(t, e.Update(models.SegmentDefinition{ID: "nope"}))
	assert.Error(t, e.Add(models.SegmentDefinition{ID: "bad", Criteria: []models.Condition{{Field: "utm.nope", Operator: "equals"}}}))

	require.NoError(t, e.Update(models.SegmentDefinition{
		ID: "paid_searcher", Priority: 1,
		Criteria: []models.Condition{cond("traffic.type", "equals", "social", 1)},
	}))
	assert.False(t, e.Evaluate(paidFacts()).Has("paid_searcher"))

	e.Remove("paid_searcher")
	_, ok := e.Definition("paid_searcher")
	assert.False(t, ok)
}

func TestAssignCachesResult(t *testing.T) {
	ctx := context.Background()
	m := store.NewManager(kvstore.NewMemory(0))
	e, err := NewEngine(DefaultSegments())
	require.NoError(t, err)

	segs, err := e.Assign(ctx, m, paidFacts())
	require.NoError(t, err)

	cached, err := Cached(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, segs.Primary, cached.Primary)
	assert.Equal(t, segs.IDs(), cached.IDs())
}
