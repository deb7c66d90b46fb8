package tracking

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

const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTracker(t *testing.T) (*Tracker, *clock, *store.Manager) {
	t.Helper()
	c := &clock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	m := store.NewManager(kvstore.NewMemory(0), store.WithClock(c.Now))
	return NewTracker(m, WithSiteHost("edumarket.io")), c, m
}

func TestPaidClickClassification(t *testing.T) {
	tr, _, _ := newTracker(t)

	visit, err := tr.Track(context.Background(), PageLoad{
		URL:       "https://edumarket.io/courses?utm_source=google&utm_medium=cpc&gclid=abc123",
		UserAgent: iphoneUA,
	})
	require.NoError(t, err)

	assert.True(t, visit.NewSession)
	assert.Equal(t, models.TrafficPaid, visit.Traffic.Type)
	assert.Equal(t, 0.95, visit.Traffic.Confidence)
	assert.Equal(t, "google", visit.Traffic.Source)
	assert.Equal(t, "/courses", visit.Page)
	assert.Equal(t, visit.Session.OriginalParams, visit.Session.LatestParams)
	assert.Equal(t, "abc123", visit.Session.OriginalParams.GCLID)
	assert.Equal(t, "mobile", visit.Session.Device.Type)
}

func TestRepeatVisitInsideWindowKeepsSession(t *testing.T) {
	ctx := context.Background()
	tr, c, _ := newTracker(t)

	first, err := tr.Track(ctx, PageLoad{URL: "/?utm_source=newsletter&utm_medium=email&utm_campaign=fall"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		c.Advance(5 * 24 * time.Hour)
		next, err := tr.Track(ctx, PageLoad{URL: "/pricing"})
		require.NoError(t, err)

		assert.False(t, next.NewSession)
		assert.Equal(t, first.Session.ID, next.Session.ID)
		assert.Equal(t, first.Session.VisitCount+i+1, next.Session.VisitCount)
		// no parameters on this load: latest stays as captured
		assert.Equal(t, "fall", next.Session.LatestParams.Campaign)
	}

	c.Advance(24 * time.Hour)
	withParams, err := tr.Track(ctx, PageLoad{URL: "/?utm_source=facebook&utm_medium=social&utm_campaign=retarget"})
	require.NoError(t, err)
	assert.Equal(t, "retarget", withParams.Session.LatestParams.Campaign)
	assert.Equal(t, "fall", withParams.Session.OriginalParams.Campaign)
	assert.Len(t, withParams.Session.ParamHistory, 2)

	tps, err := tr.Touchpoints(ctx, first.Session.ID)
	require.NoError(t, err)
	require.Len(t, tps, 5)
	for i, tp := range tps {
		assert.Equal(t, i+1, tp.Position)
	}
	assert.Equal(t, (5 * 24 * time.Hour).Milliseconds(), tps[1].SincePreviousMs)
	assert.Equal(t, models.TrafficSocial, tps[4].Channel)
}

func TestInternalNavigationIsNotATouchpoint(t *testing.T) {
	ctx := context.Background()
	tr, c, _ := newTracker(t)

	landing, err := tr.Track(ctx, PageLoad{URL: "https://edumarket.io/courses?gclid=abc123"})
	require.NoError(t, err)
	require.NotNil(t, landing.Touchpoint)

	c.Advance(time.Minute)
	nav, err := tr.Track(ctx, PageLoad{URL: "https://edumarket.io/pricing", Referrer: "https://edumarket.io/courses"})
	require.NoError(t, err)
	assert.Nil(t, nav.Touchpoint)
	assert.Equal(t, 2, nav.Session.VisitCount)

	c.Advance(time.Minute)
	noRef, err := tr.Track(ctx, PageLoad{URL: "https://edumarket.io/enroll"})
	require.NoError(t, err)
	assert.Nil(t, noRef.Touchpoint)

	c.Advance(time.Minute)
	external, err := tr.Track(ctx, PageLoad{URL: "https://edumarket.io/", Referrer: "https://blog.microsoft.com/post"})
	require.NoError(t, err)
	require.NotNil(t, external.Touchpoint)
	assert.Equal(t, models.TrafficReferral, external.Touchpoint.Channel)

	c.Advance(ReturnGap)
	back, err := tr.Track(ctx, PageLoad{URL: "https://edumarket.io/"})
	require.NoError(t, err)
	require.NotNil(t, back.Touchpoint)
	assert.Equal(t, models.TrafficDirect, back.Touchpoint.Channel)

	tps, err := tr.Touchpoints(ctx, landing.Session.ID)
	require.NoError(t, err)
	require.Len(t, tps, 3)
	assert.Equal(t, "google", tps[0].Source)
	assert.Equal(t, 3, tps[2].Position)
}

func TestExpiredWindowStartsNewSession(t *testing.T) {
	ctx := context.Background()
	tr, c, m := newTracker(t)

	first, err := tr.Track(ctx, PageLoad{URL: "/"})
	require.NoError(t, err)

	c.Advance(31 * 24 * time.Hour)
	second, err := tr.Track(ctx, PageLoad{URL: "/?utm_source=bing&utm_medium=organic"})
	require.NoError(t, err)

	assert.True(t, second.NewSession)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, 1, second.Session.VisitCount)

	sessions, err := store.SessionCollection.Load(ctx, m)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestClassifyDecisionList(t *testing.T) {
	cases := []struct {
		name     string
		params   models.UTMParams
		referrer string
		want     models.TrafficType
		source   string
		conf     float64
	}{
		{"click id without utm", models.UTMParams{MSCLKID: "x"}, "", models.TrafficPaid, "bing", ConfidencePaid},
		{"ppc medium", models.UTMParams{Source: "duckduckgo", Medium: "ppc"}, "", models.TrafficPaid, "duckduckgo", ConfidencePaid},
		{"social medium", models.UTMParams{Source: "partner", Medium: "social"}, "", models.TrafficSocial, "partner", ConfidenceSocial},
		{"social source", models.UTMParams{Source: "linkedin"}, "", models.TrafficSocial, "linkedin", ConfidenceSocial},
		{"social referrer", models.UTMParams{}, "https://l.facebook.com/l.php", models.TrafficSocial, "facebook", ConfidenceSocial},
		{"email", models.UTMParams{Source: "weekly-newsletter"}, "", models.TrafficEmail, "weekly-newsletter", ConfidenceEmail},
		{"organic referrer", models.UTMParams{}, "https://www.google.co.uk/", models.TrafficOrganic, "google", ConfidenceOrganic},
		{"referral", models.UTMParams{}, "https://blog.microsoft.com/post", models.TrafficReferral, "blog.microsoft.com", ConfidenceReferral},
		{"own site is not a referral", models.UTMParams{}, "https://www.edumarket.io/about", models.TrafficDirect, "direct", ConfidenceDirect},
		{"direct", models.UTMParams{}, "", models.TrafficDirect, "direct", ConfidenceDirect},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.params, tc.referrer, "edumarket.io")
			assert.Equal(t, tc.want, got.Type)
			assert.Equal(t, tc.source, got.Source)
			assert.Equal(t, tc.conf, got.Confidence)
		})
	}
}

func TestParseURLIgnoresUnknownParams(t *testing.T) {
	now := time.Now()
	p, path, err := ParseURL("https://edumarket.io/quiz?ref=abc&utm_term=+go+", now)
	require.NoError(t, err)
	assert.Equal(t, "/quiz", path)
	assert.Equal(t, "go", p.Term)
	assert.Equal(t, now, p.CapturedAt)

	empty, _, err := ParseURL("/about", now)
	require.NoError(t, err)
	assert.True(t, empty.Empty())
	assert.True(t, empty.CapturedAt.IsZero())
}
