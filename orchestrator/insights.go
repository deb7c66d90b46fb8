package orchestrator

import (
	"context"
	"time"

	"edumarket/api/models"
	"edumarket/api/store"
)

// Insights aggregates what every engine knows about one visitor.
type Insights struct {
	VisitorID   string                      `json:"visitorId"`
	Session     *models.Session             `json:"session,omitempty"`
	Traffic     models.TrafficSource        `json:"traffic"`
	Behavior    *models.BehaviorPattern     `json:"behavior,omitempty"`
	Segments    models.UserSegments         `json:"segments"`
	Conversions []models.ConversionEvent    `json:"conversions"`
	Touchpoints []models.Touchpoint         `json:"touchpoints"`
	Audiences   []models.AudienceMembership `json:"audiences"`
	Storage     *store.StorageStats         `json:"storage,omitempty"`
	Demo        bool                        `json:"demo,omitempty"`
	GeneratedAt time.Time                   `json:"generatedAt"`
}

// Insights reports the visitor's real data. A visitor without a session gets
// empty insights, unless demo mode is on, in which case the sample data is
// returned and marked as such.
func (a *Analytics) Insights(ctx context.Context) (*Insights, error) {
	now := a.store.Now()
	sess, err := a.tracking.Current(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil && a.demo {
		return demoInsights(a.visitorID, now), nil
	}

	f, err := a.Facts(ctx)
	if err != nil {
		return nil, err
	}
	out := &Insights{
		VisitorID:   a.visitorID,
		Session:     sess,
		Traffic:     f.Traffic,
		Segments:    f.Segments,
		Conversions: f.Conversions,
		GeneratedAt: now,
	}
	if sess != nil {
		b, err := a.journey.Pattern(ctx, sess.ID, f.Traffic.Type)
		if err != nil {
			return nil, err
		}
		out.Behavior = &b
		if out.Touchpoints, err = a.tracking.Touchpoints(ctx, sess.ID); err != nil {
			return nil, err
		}
	}
	if out.Audiences, err = a.engines.Audiences.Memberships(ctx, a.store); err != nil {
		return nil, err
	}
	if out.Storage, err = a.store.Stats(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func demoInsights(visitorID string, now time.Time) *Insights {
	first := now.Add(-72 * time.Hour)
	params := models.UTMParams{Source: "google", Medium: "cpc", Campaign: "data-science-bootcamp"}
	sess := &models.Session{
		ID:             "demo-session",
		FirstVisit:     first,
		LastVisit:      now,
		VisitCount:     3,
		OriginalParams: params,
		LatestParams:   params,
		LandingPage:    "/courses/data-science",
		Device:         models.DeviceInfo{Type: "desktop", OS: "macOS", Browser: "Chrome"},
	}
	return &Insights{
		VisitorID: visitorID,
		Session:   sess,
		Traffic: models.TrafficSource{
			Type: models.TrafficPaid, Source: "google", Medium: "cpc", Campaign: params.Campaign, Confidence: 0.95,
		},
		Behavior: &models.BehaviorPattern{
			SessionID:             sess.ID,
			ComputedAt:            now,
			PageViews:             6,
			TimeOnSiteMs:          200_000,
			MaxScrollDepth:        75,
			Clicks:                4,
			CTAClicks:             1,
			PricingViews:          1,
			PagesVisited:          []string{"/courses/data-science", "/pricing", "/syllabus"},
			EngagementScore:       0.59,
			EngagementLevel:       models.EngagementHigh,
			IntentScore:           0.35,
			ConversionProbability: 0.47,
		},
		Segments: models.UserSegments{
			Matches: []models.SegmentMatch{
				{SegmentID: "paid_searcher", Score: 1, Confidence: 1},
				{SegmentID: "high_intent_prospect", Score: 0.5, Confidence: 0.5},
			},
			Primary:    "paid_searcher",
			ComputedAt: now,
		},
		Conversions: []models.ConversionEvent{},
		Touchpoints: []models.Touchpoint{},
		Audiences:   []models.AudienceMembership{},
		Demo:        true,
		GeneratedAt: now,
	}
}
