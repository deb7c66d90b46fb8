package retargeting

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

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func setup(t *testing.T) (*PopupEngine, *events.Recorder, *store.Manager, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	rec := &events.Recorder{}
	p, err := NewPopupEngine(DefaultCampaigns(), rec)
	require.NoError(t, err)
	return p, rec, store.NewManager(kvstore.NewMemory(0), store.WithClock(c.Now)), c
}

func TestExitIntentPicksHighestPriorityMatch(t *testing.T) {
	ctx := context.Background()
	p, rec, m, _ := setup(t)

	f := rules.Facts{
		Session:  &models.Session{ID: "s1"},
		Behavior: &models.BehaviorPattern{PricingViews: 2},
		Segments: models.UserSegments{Matches: []models.SegmentMatch{{SegmentID: "price_sensitive"}}},
	}
	c, err := p.Evaluate(ctx, m, Signal{Trigger: models.TriggerExitIntent, Facts: f})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "exit_scholarship", c.ID)
	assert.Equal(t, 1, c.Performance.Impressions)

	// capped at one display: the generic exit popup takes over
	c, err = p.Evaluate(ctx, m, Signal{Trigger: models.TriggerExitIntent, Facts: f})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "exit_syllabus", c.ID)

	published := rec.Events()
	require.Len(t, published, 2)
	assert.Equal(t, events.RetargetingDisplay, published[0].Name)
	assert.Equal(t, "s1", published[0].SessionID)
}

func TestCooldownAndCap(t *testing.T) {
	ctx := context.Background()
	p, _, m, c := setup(t)
	sig := Signal{Trigger: models.TriggerExitIntent}

	first, err := p.Evaluate(ctx, m, sig)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "exit_syllabus", first.ID)

	c.now = c.now.Add(time.Hour)
	again, err := p.Evaluate(ctx, m, sig)
	require.NoError(t, err)
	assert.Nil(t, again, "inside the cooldown")

	c.now = c.now.Add(24 * time.Hour)
	again, err = p.Evaluate(ctx, m, sig)
	require.NoError(t, err)
	assert.NotNil(t, again)

	c.now = c.now.Add(48 * time.Hour)
	again, err = p.Evaluate(ctx, m, sig)
	require.NoError(t, err)
	assert.Nil(t, again, "max displays reached")
}

func TestThresholdTriggers(t *testing.T) {
	ctx := context.Background()
	p, _, m, _ := setup(t)
	f := rules.Facts{Page: "/pricing"}

	c, err := p.Evaluate(ctx, m, Signal{Trigger: models.TriggerTimeOnPage, Value: 30, Facts: f})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = p.Evaluate(ctx, m, Signal{Trigger: models.TriggerTimeOnPage, Value: 61, Facts: f})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "pricing_help", c.ID)

	c, err = p.Evaluate(ctx, m, Signal{Trigger: models.TriggerScrollDepth, Value: 90, Facts: f})
	require.NoError(t, err)
	assert.Nil(t, c, "deep_reader only runs on the blog")
}

func TestConversionStopsCampaign(t *testing.T) {
	ctx := context.Background()
	p, rec, m, c := setup(t)
	sig := Signal{Trigger: models.TriggerExitIntent}

	_, err := p.Evaluate(ctx, m, sig)
	require.NoError(t, err)
	require.NoError(t, p.Click("exit_syllabus"))
	require.NoError(t, p.Convert(ctx, m, "exit_syllabus", "s1"))
	assert.Error(t, p.Convert(ctx, m, "nope", "s1"))
	assert.Error(t, p.Dismiss(ctx, m, "nope"))

	c.now = c.now.Add(72 * time.Hour)
	shown, err := p.Evaluate(ctx, m, sig)
	require.NoError(t, err)
	assert.Nil(t, shown)

	for _, camp := range p.Campaigns() {
		if camp.ID == "exit_syllabus" {
			assert.Equal(t, 1, camp.Performance.Clicks)
			assert.Equal(t, 1, camp.Performance.Conversions)
			assert.InDelta(t, 1.0, camp.Performance.CTR(), 1e-9)
		}
	}
	last := rec.Events()[len(rec.Events())-1]
	assert.Equal(t, events.RetargetingConversion, last.Name)
}

func TestAudienceMembershipExpires(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	m := store.NewManager(kvstore.NewMemory(0), store.WithClock(c.Now))
	e, err := NewAudienceEngine(DefaultAudiences())
	require.NoError(t, err)

	f := rules.Facts{
		Behavior:    &models.BehaviorPattern{PricingViews: 1, IntentScore: 0.7},
		Conversions: nil,
	}
	ms, err := e.Sync(ctx, m, f)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "high_intent_non_converters", ms[0].AudienceID)
	assert.Equal(t, "pricing_viewers", ms[1].AudienceID)
	assert.Equal(t, c.now.Add(14*24*time.Hour), ms[0].ExpiresAt)

	// the visitor stops qualifying; memberships lapse on their own schedule
	c.now = c.now.Add(15 * 24 * time.Hour)
	ms, err = e.Sync(ctx, m, rules.Facts{})
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "pricing_viewers", ms[0].AudienceID)

	c.now = c.now.Add(30 * 24 * time.Hour)
	active, err := e.Memberships(ctx, m)
	require.NoError(t, err)
	assert.Empty(t, active)

	for _, a := range e.Audiences() {
		if a.ID == "pricing_viewers" {
			assert.Equal(t, 1, a.Performance.Impressions)
		}
	}
}
