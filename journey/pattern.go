package journey

import (
	"context"
	"math"
	"strings"

	"edumarket/api/models"
	"edumarket/api/store"
)

// Normalization targets for the engagement score.
const (
	fullTimeOnSiteMs = 180_000
	fullPageViews    = 5
	fullClicks       = 5
)

var sourceBonus = map[models.TrafficType]float64{
	models.TrafficPaid:     0.10,
	models.TrafficEmail:    0.08,
	models.TrafficOrganic:  0.05,
	models.TrafficReferral: 0.04,
	models.TrafficSocial:   0.03,
}

// Pattern derives the behavior pattern of a session from its journey and page
// records, stores it and returns it.
func (t *Tracker) Pattern(ctx context.Context, sessionID string, traffic models.TrafficType) (models.BehaviorPattern, error) {
	steps, err := t.Steps(ctx, sessionID)
	if err != nil {
		return models.BehaviorPattern{}, err
	}
	pages, err := t.Pages(ctx, sessionID)
	if err != nil {
		return models.BehaviorPattern{}, err
	}
	b := Summarize(sessionID, steps, pages)
	b.ComputedAt = t.store.Now()
	Score(&b, traffic)

	if err := store.PatternCollection.Append(ctx, t.store, b); err != nil {
		return b, err
	}
	return b, nil
}

// Summarize folds steps and pages into the pattern's counters. Scores are
// left for Score.
func Summarize(sessionID string, steps []models.JourneyStep, pages []models.PageMetrics) models.BehaviorPattern {
	b := models.BehaviorPattern{SessionID: sessionID, PageViews: len(pages)}
	seen := make(map[string]bool)
	for _, p := range pages {
		b.TimeOnSiteMs += p.DurationMs
		b.MaxScrollDepth = math.Max(b.MaxScrollDepth, p.ScrollDepth)
		b.Clicks += p.Clicks
		b.FormSubmits += p.FormSubmits
		b.VideoCompletions += p.VideoCompletions
		b.Downloads += p.Downloads
		if isPricingPage(p.Page) {
			b.PricingViews++
		}
		if !seen[p.Page] {
			seen[p.Page] = true
			b.PagesVisited = append(b.PagesVisited, p.Page)
		}
	}
	for _, s := range steps {
		if isCTA(s) {
			b.CTAClicks++
		}
		if s.ExitIntent {
			b.ExitIntents++
		}
	}
	return b
}

// Score fills the engagement, intent and conversion-probability fields.
func Score(b *models.BehaviorPattern, traffic models.TrafficType) {
	b.EngagementScore = EngagementScore(*b)
	b.EngagementLevel = Level(b.EngagementScore)
	b.IntentScore = IntentScore(*b)
	b.ConversionProbability = ConversionProbability(*b, traffic)
}

func EngagementScore(b models.BehaviorPattern) float64 {
	return 0.25*ratio(float64(b.TimeOnSiteMs), fullTimeOnSiteMs) +
		0.20*ratio(float64(b.PageViews), fullPageViews) +
		0.20*math.Min(b.MaxScrollDepth, 100)/100 +
		0.15*ratio(float64(b.Clicks), fullClicks) +
		0.10*ratio(float64(b.FormSubmits), 1) +
		0.10*ratio(float64(b.VideoCompletions), 1)
}

func Level(score float64) models.EngagementLevel {
	switch {
	case score < 0.2:
		return models.EngagementLow
	case score < 0.4:
		return models.EngagementMedium
	case score < 0.7:
		return models.EngagementHigh
	default:
		return models.EngagementVeryHigh
	}
}

func IntentScore(b models.BehaviorPattern) float64 {
	s := 0.25*float64(b.CTAClicks) +
		0.30*float64(b.FormSubmits) +
		0.15*float64(b.VideoCompletions) +
		0.20*float64(b.Downloads) +
		0.10*float64(b.PricingViews)
	return math.Min(s, 1)
}

// ConversionProbability blends intent and engagement with bonuses for the
// traffic source and for long visits, clamped to [0,1].
func ConversionProbability(b models.BehaviorPattern, traffic models.TrafficType) float64 {
	p := 0.4*IntentScore(b) + 0.3*EngagementScore(b) + sourceBonus[traffic]
	if b.TimeOnSiteMs >= 120_000 {
		p += 0.05
	}
	if b.TimeOnSiteMs >= 300_000 {
		p += 0.05
	}
	return math.Max(0, math.Min(p, 1))
}

func ratio(v, full float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Min(v/full, 1)
}

func isCTA(s models.JourneyStep) bool {
	if !strings.HasPrefix(s.Action, Click) {
		return false
	}
	if cta, ok := s.Metadata["cta"].(bool); ok {
		return cta
	}
	if et, _ := s.Metadata["elementType"].(string); strings.EqualFold(et, "button") {
		return true
	}
	el := strings.ToLower(s.Element)
	return strings.Contains(el, "cta") || strings.Contains(el, "enroll") || strings.Contains(el, "apply")
}

func isPricingPage(page string) bool {
	p := strings.ToLower(page)
	return strings.Contains(p, "pricing") || strings.Contains(p, "tuition")
}
