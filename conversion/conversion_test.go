package conversion

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edumarket/api/events"
	"edumarket/api/kvstore"
	"edumarket/api/models"
	"edumarket/api/store"
)

var t0 = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func touchpoints(n int) []models.Touchpoint {
	tps := make([]models.Touchpoint, n)
	for i := range tps {
		tps[i] = models.Touchpoint{
			ID:        fmt.Sprintf("tp%d", i+1),
			Position:  i + 1,
			Timestamp: t0.Add(time.Duration(i) * 48 * time.Hour),
			Source:    fmt.Sprintf("source%d", i+1),
		}
	}
	return tps
}

func sum(credits []models.AttributionCredit) float64 {
	total := 0.0
	for _, c := range credits {
		total += c.Value
	}
	return total
}

func TestAttributionCreditsSumToValue(t *testing.T) {
	at := t0.Add(20 * 24 * time.Hour)
	for _, m := range []Model{FirstTouch, LastTouch, Linear, TimeDecay, PositionBased} {
		for n := 0; n <= 7; n++ {
			for _, value := range []float64{0, 1, 49.99, 499, 1234.567} {
				credits := Attributor{Model: m}.Attribute(touchpoints(n), value, at)
				assert.InDelta(t, value, sum(credits), 1e-9, "model %s n=%d value=%v", m, n, value)
			}
		}
	}
}

func TestLastTouchThreeTouchpoints(t *testing.T) {
	credits := Attributor{Model: LastTouch}.Attribute(touchpoints(3), 300, t0.Add(10*24*time.Hour))
	require.Len(t, credits, 3)
	assert.Zero(t, credits[0].Value)
	assert.Zero(t, credits[1].Value)
	assert.Equal(t, 300.0, credits[2].Value)
	assert.Equal(t, "tp3", credits[2].TouchpointID)
}

func TestPositionBasedSplits(t *testing.T) {
	a := Attributor{Model: PositionBased}

	one := a.Attribute(touchpoints(1), 100, t0)
	assert.InDelta(t, 100, one[0].Value, 1e-9)

	two := a.Attribute(touchpoints(2), 100, t0)
	assert.InDelta(t, 50, two[0].Value, 1e-9)
	assert.InDelta(t, 50, two[1].Value, 1e-9)

	four := a.Attribute(touchpoints(4), 100, t0)
	assert.InDelta(t, 40, four[0].Value, 1e-9)
	assert.InDelta(t, 10, four[1].Value, 1e-9)
	assert.InDelta(t, 10, four[2].Value, 1e-9)
	assert.InDelta(t, 40, four[3].Value, 1e-9)

	custom := Attributor{Model: PositionBased, Position: PositionWeights{First: 0.3, Middle: 0.3, Last: 0.4}}
	three := custom.Attribute(touchpoints(3), 10, t0)
	assert.InDelta(t, 3, three[0].Value, 1e-9)
	assert.InDelta(t, 3, three[1].Value, 1e-9)
	assert.InDelta(t, 4, three[2].Value, 1e-9)
}

func TestTimeDecayHalvesPerHalfLife(t *testing.T) {
	tps := []models.Touchpoint{
		{ID: "old", Timestamp: t0},
		{ID: "new", Timestamp: t0.Add(DefaultHalfLife)},
	}
	credits := Attributor{Model: TimeDecay}.Attribute(tps, 3, t0.Add(DefaultHalfLife))
	assert.InDelta(t, 1, credits[0].Value, 1e-9)
	assert.InDelta(t, 2, credits[1].Value, 1e-9)
}

func TestParseModel(t *testing.T) {
	m, err := ParseModel("")
	require.NoError(t, err)
	assert.Equal(t, PositionBased, m)
	_, err = ParseModel("u_shaped")
	assert.Error(t, err)
}

func TestNewAttributorUsesConfiguredSplit(t *testing.T) {
	a, err := NewAttributor("position_based", 0, PositionWeights{First: 0.7, Middle: 0, Last: 0.3})
	require.NoError(t, err)
	credits := a.Attribute(touchpoints(3), 100, t0)
	require.Len(t, credits, 3)
	assert.InDelta(t, 70.0, credits[0].Value, 1e-9)
	assert.InDelta(t, 0.0, credits[1].Value, 1e-9)
	assert.InDelta(t, 30.0, credits[2].Value, 1e-9)

	def, err := NewAttributor("", 0, PositionWeights{})
	require.NoError(t, err)
	assert.Equal(t, PositionBased, def.Model)

	_, err = NewAttributor("position_based", 0, PositionWeights{First: 0.5, Middle: 0.5, Last: 0.5})
	assert.Error(t, err)
	_, err = NewAttributor("position_based", 0, PositionWeights{First: 1.2, Middle: -0.2})
	assert.Error(t, err)
	_, err = NewAttributor("linear", -time.Hour, PositionWeights{})
	assert.Error(t, err)
}

func newConversionTracker(t *testing.T) (*Tracker, *events.Recorder, *store.Manager) {
	t.Helper()
	m := store.NewManager(kvstore.NewMemory(0), store.WithClock(func() time.Time { return t0.Add(time.Hour) }))
	rec := &events.Recorder{}
	return NewTracker(m, DefaultGoals(), Attributor{Model: Linear}, rec), rec, m
}

func TestCheckFiresGoalOncePerSession(t *testing.T) {
	ctx := context.Background()
	tr, rec, _ := newConversionTracker(t)
	sess := &models.Session{ID: "s1", FirstVisit: t0}
	ev := Evidence{Events: []models.AnalyticsEvent{{SessionID: "s1", EventType: "quiz_completed"}}}

	fired, err := tr.Check(ctx, sess, ev, touchpoints(2))
	require.NoError(t, err)
	require.Len(t, fired, 1)
	conv := fired[0]
	assert.Equal(t, "quiz_completed", conv.GoalID)
	assert.Equal(t, 20.0, conv.Value)
	assert.Equal(t, time.Hour.Milliseconds(), conv.TimeToConvertMs)
	assert.Equal(t, 2, conv.TouchpointCount)
	assert.Equal(t, "linear", conv.AttributionModel)
	assert.InDelta(t, 20, sum(conv.Attribution), 1e-9)

	again, err := tr.Check(ctx, sess, ev, touchpoints(2))
	require.NoError(t, err)
	assert.Empty(t, again)

	// a new session may fire it again
	again, err = tr.Check(ctx, &models.Session{ID: "s2", FirstVisit: t0}, ev, nil)
	require.NoError(t, err)
	assert.Len(t, again, 1)

	published := rec.Events()
	require.Len(t, published, 2)
	assert.Equal(t, events.Conversion, published[0].Name)
}

func TestCheckRequiresThreshold(t *testing.T) {
	tr, _, _ := newConversionTracker(t)
	sess := &models.Session{ID: "s1", FirstVisit: t0}

	// enrollment weighs the success page 3 and the form 2: the form alone is 0.4
	ev := Evidence{Steps: []models.JourneyStep{{SessionID: "s1", Page: "/enroll", Action: "submit"}}}
	fired, err := tr.Check(context.Background(), sess, ev, nil)
	require.NoError(t, err)
	assert.Empty(t, fired)

	ev.Pages = []models.PageMetrics{{SessionID: "s1", Page: "/enroll/success"}}
	fired, err = tr.Check(context.Background(), sess, ev, nil)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, "enrollment", fired[0].GoalID)
}

func TestTrackCustomOverridesValue(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newConversionTracker(t)
	sess := &models.Session{ID: "s1", FirstVisit: t0}

	v := 899.0
	conv, err := tr.TrackCustom(ctx, sess, "enrollment", &v, touchpoints(3))
	require.NoError(t, err)
	assert.Equal(t, 899.0, conv.Value)
	assert.InDelta(t, 899, sum(conv.Attribution), 1e-9)

	_, err = tr.TrackCustom(ctx, sess, "nope", nil, nil)
	assert.Error(t, err)

	stored, err := tr.Conversions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, conv.ID, stored[0].ID)
}

func TestConditionScores(t *testing.T) {
	ev := Evidence{
		Steps: []models.JourneyStep{{Action: "click_button_click", Element: "download-syllabus"}},
		Pages: []models.PageMetrics{
			{Page: "/courses/go", DurationMs: 30_000, ScrollDepth: 50},
			{Page: "/pricing", DurationMs: 15_000, ScrollDepth: 90, FormSubmits: 1},
		},
	}
	assert.Equal(t, 1.0, ConditionScore(models.GoalCondition{Type: models.ConditionPageVisit, Target: "/courses/*"}, ev))
	assert.Equal(t, 0.0, ConditionScore(models.GoalCondition{Type: models.ConditionPageVisit, Target: "/courses"}, ev))
	assert.Equal(t, 1.0, ConditionScore(models.GoalCondition{Type: models.ConditionElementClick, Target: "download-syllabus"}, ev))
	assert.Equal(t, 1.0, ConditionScore(models.GoalCondition{Type: models.ConditionFormSubmit, Target: "/pricing"}, ev))
	assert.InDelta(t, 0.75, ConditionScore(models.GoalCondition{Type: models.ConditionTimeSpent, Threshold: 60}, ev), 1e-9)
	assert.InDelta(t, 0.5, ConditionScore(models.GoalCondition{Type: models.ConditionTimeSpent, Target: "/courses/go", Threshold: 60}, ev), 1e-9)
	assert.Equal(t, 1.0, ConditionScore(models.GoalCondition{Type: models.ConditionScrollDepth, Threshold: 75}, ev))
	assert.Equal(t, 0.0, ConditionScore(models.GoalCondition{Type: models.ConditionCustomEvent, Target: "quiz_completed"}, ev))
}

func TestAnalyzeFunnel(t *testing.T) {
	var f models.Funnel
	for _, candidate := range DefaultFunnels() {
		if candidate.ID == "enrollment" {
			f = candidate
		}
	}
	page := func(sid, p string) models.PageMetrics { return models.PageMetrics{SessionID: sid, Page: p} }
	ev := Evidence{
		Pages: []models.PageMetrics{
			page("a", "/"), page("a", "/courses/go"), page("a", "/pricing"), page("a", "/enroll/success"),
			page("b", "/"), page("b", "/courses/data"),
			page("c", "/blog/post"),
		},
		Steps: []models.JourneyStep{{SessionID: "a", Page: "/enroll", Action: "submit"}},
	}

	r := AnalyzeFunnel(f, []string{"a", "b", "c", "d"}, ev)
	assert.Equal(t, 4, r.Sessions)
	require.Len(t, r.Steps, 5)

	// d has no data and drops at the landing step
	assert.Equal(t, 4, r.Steps[0].Entered)
	assert.Equal(t, 3, r.Steps[0].Completed)
	assert.Equal(t, 3, r.Steps[1].Entered)
	assert.Equal(t, 2, r.Steps[1].Completed)
	// pricing is optional: b enters application without it
	assert.Equal(t, 2, r.Steps[2].Entered)
	assert.Equal(t, 1, r.Steps[2].Completed)
	assert.Equal(t, 2, r.Steps[3].Entered)
	assert.Equal(t, 1, r.Steps[3].Completed)
	assert.InDelta(t, 0.5, r.Steps[3].DropOffRate, 1e-9)
	assert.Equal(t, 1, r.Steps[4].Completed)
	assert.InDelta(t, 0.25, r.OverallConversionRate, 1e-9)
}
