package journey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edumarket/api/kvstore"
	"edumarket/api/models"
	"edumarket/api/store"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newJourney(t *testing.T) (*Tracker, *clock, *store.Manager) {
	t.Helper()
	c := &clock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	m := store.NewManager(kvstore.NewMemory(0), store.WithClock(c.Now))
	return NewTracker(m), c, m
}

func TestObserveSynthesizesActionLabels(t *testing.T) {
	ctx := context.Background()
	tr, c, _ := newJourney(t)

	_, err := tr.StartPage(ctx, "s1", "/courses")
	require.NoError(t, err)

	c.Advance(3 * time.Second)
	step, err := tr.Observe(ctx, "s1", models.Interaction{Type: Click, Page: "/courses", Element: "enroll-now", ElementType: "BUTTON", X: 10, Y: 20})
	require.NoError(t, err)
	assert.Equal(t, "click_button_click", step.Action)
	assert.Equal(t, int64(3000), step.DurationMs)
	assert.Equal(t, 20, step.Metadata["y"])

	step, err = tr.Observe(ctx, "s1", models.Interaction{Type: Scroll, Page: "/courses", ScrollDepth: 140})
	require.NoError(t, err)
	assert.Equal(t, "scroll", step.Action)
	assert.Equal(t, 100.0, step.ScrollDepth)

	step, err = tr.Observe(ctx, "s1", models.Interaction{Type: MouseLeave, Page: "/courses", Y: -2})
	require.NoError(t, err)
	assert.True(t, step.ExitIntent)

	_, err = tr.Observe(ctx, "s1", models.Interaction{Type: "hover"})
	assert.Error(t, err)
}

func TestLateInteractionDoesNotReopenPage(t *testing.T) {
	ctx := context.Background()
	tr, c, _ := newJourney(t)

	_, err := tr.StartPage(ctx, "s1", "/pricing")
	require.NoError(t, err)
	c.Advance(time.Second)
	_, err = tr.Observe(ctx, "s1", models.Interaction{Type: Click, Page: "/pricing", Element: "plan"})
	require.NoError(t, err)
	_, err = tr.Observe(ctx, "s1", models.Interaction{Type: BeforeUnload})
	require.NoError(t, err)

	c.Advance(100 * time.Millisecond)
	step, err := tr.Observe(ctx, "s1", models.Interaction{Type: Scroll, ScrollDepth: 80})
	require.NoError(t, err)
	assert.Equal(t, "/pricing", step.Page)

	cur, err := tr.CurrentPage(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)

	pages, err := tr.Pages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.False(t, pages[0].Bounced)

	steps, err := tr.Steps(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, steps, 3)
}

func TestPageMetricsFinalizedOnNavigation(t *testing.T) {
	ctx := context.Background()
	tr, c, m := newJourney(t)

	_, err := tr.StartPage(ctx, "s1", "/")
	require.NoError(t, err)
	c.Advance(2 * time.Second)
	_, err = tr.Observe(ctx, "s1", models.Interaction{Type: Navigation, Page: "/"})
	require.NoError(t, err)

	cur, err := tr.CurrentPage(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)

	logged, err := store.PageCollection.Load(ctx, m)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, int64(2000), logged[0].DurationMs)
	assert.True(t, logged[0].Bounced)

	// an interaction on another page opens a fresh record
	c.Advance(time.Second)
	_, err = tr.Observe(ctx, "s1", models.Interaction{Type: Submit, Page: "/apply"})
	require.NoError(t, err)
	cur, err = tr.CurrentPage(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "/apply", cur.Page)
	assert.Equal(t, 1, cur.FormSubmits)

	steps, err := tr.Steps(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestHighEngagementExample(t *testing.T) {
	ctx := context.Background()
	tr, c, _ := newJourney(t)

	pages := []string{"/", "/courses", "/courses/go", "/pricing", "/about", "/faq"}
	for i, p := range pages {
		_, err := tr.StartPage(ctx, "s1", p)
		require.NoError(t, err)
		if i == 1 {
			_, err = tr.Observe(ctx, "s1", models.Interaction{Type: Click, Page: p, Element: "hero-cta", ElementType: "a"})
			require.NoError(t, err)
		}
		c.Advance(200 * time.Second / 6)
	}

	b, err := tr.Pattern(ctx, "s1", models.TrafficDirect)
	require.NoError(t, err)

	assert.Equal(t, 6, b.PageViews)
	assert.InDelta(t, 200_000, b.TimeOnSiteMs, 10)
	assert.Equal(t, 1, b.CTAClicks)
	assert.Equal(t, 1, b.PricingViews)
	assert.InDelta(t, 0.48, b.EngagementScore, 1e-9)
	assert.Equal(t, models.EngagementHigh, b.EngagementLevel)
	assert.InDelta(t, 0.35, b.IntentScore, 1e-9)
	assert.InDelta(t, 0.4*0.35+0.3*0.48+0.05, b.ConversionProbability, 1e-9)
}

func TestScoringFormulas(t *testing.T) {
	assert.Equal(t, models.EngagementLow, Level(0.19))
	assert.Equal(t, models.EngagementMedium, Level(0.2))
	assert.Equal(t, models.EngagementHigh, Level(0.4))
	assert.Equal(t, models.EngagementVeryHigh, Level(0.7))

	maxed := models.BehaviorPattern{
		TimeOnSiteMs: 600_000, PageViews: 20, MaxScrollDepth: 100, Clicks: 30,
		FormSubmits: 3, VideoCompletions: 2, CTAClicks: 4, Downloads: 1,
	}
	assert.InDelta(t, 1.0, EngagementScore(maxed), 1e-9)
	assert.Equal(t, 1.0, IntentScore(maxed))
	assert.InDelta(t, 0.9, ConversionProbability(maxed, models.TrafficPaid), 1e-9)

	assert.Zero(t, ConversionProbability(models.BehaviorPattern{}, models.TrafficDirect))
	assert.InDelta(t, 0.10, ConversionProbability(models.BehaviorPattern{}, models.TrafficPaid), 1e-9)
}
