// Package rules evaluates weighted criteria against what is known about a
// visitor. Segmentation, personalization, experiments and retargeting all
// describe their targeting in this one language.
package rules

import (
	"strings"
	"time"

	"edumarket/api/models"
)

// Facts is everything a criterion may look at. Nil pointers and empty
// values mean "unknown"; criteria over unknown facts score zero.
type Facts struct {
	Session     *models.Session
	Traffic     models.TrafficSource
	Behavior    *models.BehaviorPattern
	Segments    models.UserSegments
	Conversions []models.ConversionEvent
	Preferences *models.Preferences
	Page        string
	Now         time.Time
}

type kind int

const (
	kindString kind = iota
	kindNumber
	kindList
)

// value is the typed result of reading one field from Facts.
type value struct {
	kind kind
	str  string
	num  float64
	list []string
}

func str(s string) (value, bool) {
	if s == "" {
		return value{}, false
	}
	return value{kind: kindString, str: s}, true
}

func num(n float64) (value, bool) {
	return value{kind: kindNumber, num: n}, true
}

func list(l []string) (value, bool) {
	if len(l) == 0 {
		return value{}, false
	}
	return value{kind: kindList, list: l}, true
}

func boolean(b bool) (value, bool) {
	if b {
		return value{kind: kindString, str: "true"}, true
	}
	return value{kind: kindString, str: "false"}, true
}

// Field names one fact. Category groups fields the way segment criteria are
// typed (utm, behavior, engagement, ...).
type Field struct {
	Name     string
	Category string
	read     func(Facts) (value, bool)
}

func session(f Facts) (*models.Session, bool) { return f.Session, f.Session != nil }
func behavior(f Facts) (*models.BehaviorPattern, bool) {
	return f.Behavior, f.Behavior != nil
}

func utmField(name string, get func(models.UTMParams) string) Field {
	return Field{Name: name, Category: "utm", read: func(f Facts) (value, bool) {
		s, ok := session(f)
		if !ok {
			return value{}, false
		}
		if v := get(s.LatestParams); v != "" {
			return str(v)
		}
		return str(get(s.OriginalParams))
	}}
}

func behaviorNumber(name string, get func(*models.BehaviorPattern) float64) Field {
	return Field{Name: name, Category: "behavior", read: func(f Facts) (value, bool) {
		b, ok := behavior(f)
		if !ok {
			return value{}, false
		}
		return num(get(b))
	}}
}

func engagementNumber(name string, get func(*models.BehaviorPattern) float64) Field {
	fl := behaviorNumber(name, get)
	fl.Category = "engagement"
	return fl
}

var fields = []Field{
	utmField("utm.source", func(p models.UTMParams) string { return p.Source }),
	utmField("utm.medium", func(p models.UTMParams) string { return p.Medium }),
	utmField("utm.campaign", func(p models.UTMParams) string { return p.Campaign }),
	utmField("utm.term", func(p models.UTMParams) string { return p.Term }),
	utmField("utm.content", func(p models.UTMParams) string { return p.Content }),
	{Name: "traffic.type", Category: "utm", read: func(f Facts) (value, bool) {
		return str(string(f.Traffic.Type))
	}},
	{Name: "traffic.source", Category: "utm", read: func(f Facts) (value, bool) {
		return str(f.Traffic.Source)
	}},
	{Name: "referrer", Category: "utm", read: func(f Facts) (value, bool) {
		s, ok := session(f)
		if !ok {
			return value{}, false
		}
		return str(s.Referrer)
	}},

	behaviorNumber("behavior.page_views", func(b *models.BehaviorPattern) float64 { return float64(b.PageViews) }),
	behaviorNumber("behavior.time_on_site", func(b *models.BehaviorPattern) float64 { return float64(b.TimeOnSiteMs) / 1000 }),
	behaviorNumber("behavior.scroll_depth", func(b *models.BehaviorPattern) float64 { return b.MaxScrollDepth }),
	behaviorNumber("behavior.clicks", func(b *models.BehaviorPattern) float64 { return float64(b.Clicks) }),
	behaviorNumber("behavior.cta_clicks", func(b *models.BehaviorPattern) float64 { return float64(b.CTAClicks) }),
	behaviorNumber("behavior.form_submits", func(b *models.BehaviorPattern) float64 { return float64(b.FormSubmits) }),
	behaviorNumber("behavior.video_completions", func(b *models.BehaviorPattern) float64 { return float64(b.VideoCompletions) }),
	behaviorNumber("behavior.downloads", func(b *models.BehaviorPattern) float64 { return float64(b.Downloads) }),
	behaviorNumber("behavior.pricing_views", func(b *models.BehaviorPattern) float64 { return float64(b.PricingViews) }),
	behaviorNumber("behavior.exit_intents", func(b *models.BehaviorPattern) float64 { return float64(b.ExitIntents) }),
	{Name: "behavior.pages_visited", Category: "behavior", read: func(f Facts) (value, bool) {
		b, ok := behavior(f)
		if !ok {
			return value{}, false
		}
		return list(b.PagesVisited)
	}},

	{Name: "engagement.level", Category: "engagement", read: func(f Facts) (value, bool) {
		b, ok := behavior(f)
		if !ok {
			return value{}, false
		}
		return str(string(b.EngagementLevel))
	}},
	engagementNumber("engagement.score", func(b *models.BehaviorPattern) float64 { return b.EngagementScore }),
	engagementNumber("engagement.intent", func(b *models.BehaviorPattern) float64 { return b.IntentScore }),
	engagementNumber("engagement.conversion_probability", func(b *models.BehaviorPattern) float64 { return b.ConversionProbability }),

	{Name: "demographic.country", Category: "demographic", read: func(f Facts) (value, bool) {
		s, ok := session(f)
		if !ok {
			return value{}, false
		}
		return str(s.Device.Country)
	}},
	{Name: "demographic.preferred_category", Category: "demographic", read: func(f Facts) (value, bool) {
		if f.Preferences == nil {
			return value{}, false
		}
		return str(topKey(f.Preferences.Categories))
	}},

	{Name: "temporal.hour", Category: "temporal", read: func(f Facts) (value, bool) {
		if f.Now.IsZero() {
			return value{}, false
		}
		return num(float64(f.Now.Hour()))
	}},
	{Name: "temporal.weekday", Category: "temporal", read: func(f Facts) (value, bool) {
		if f.Now.IsZero() {
			return value{}, false
		}
		return str(strings.ToLower(f.Now.Weekday().String()))
	}},
	{Name: "temporal.is_weekend", Category: "temporal", read: func(f Facts) (value, bool) {
		if f.Now.IsZero() {
			return value{}, false
		}
		wd := f.Now.Weekday()
		return boolean(wd == time.Saturday || wd == time.Sunday)
	}},
	{Name: "temporal.visit_count", Category: "temporal", read: func(f Facts) (value, bool) {
		s, ok := session(f)
		if !ok {
			return value{}, false
		}
		return num(float64(s.VisitCount))
	}},
	{Name: "temporal.days_since_first_visit", Category: "temporal", read: func(f Facts) (value, bool) {
		s, ok := session(f)
		if !ok || f.Now.IsZero() {
			return value{}, false
		}
		return num(f.Now.Sub(s.FirstVisit).Hours() / 24)
	}},

	{Name: "device.type", Category: "device", read: func(f Facts) (value, bool) {
		s, ok := session(f)
		if !ok {
			return value{}, false
		}
		return str(s.Device.Type)
	}},
	{Name: "device.os", Category: "device", read: func(f Facts) (value, bool) {
		s, ok := session(f)
		if !ok {
			return value{}, false
		}
		return str(s.Device.OS)
	}},
	{Name: "device.browser", Category: "device", read: func(f Facts) (value, bool) {
		s, ok := session(f)
		if !ok {
			return value{}, false
		}
		return str(s.Device.Browser)
	}},

	{Name: "conversion.count", Category: "conversion", read: func(f Facts) (value, bool) {
		return num(float64(len(f.Conversions)))
	}},
	{Name: "conversion.goals", Category: "conversion", read: func(f Facts) (value, bool) {
		goals := make([]string, 0, len(f.Conversions))
		for _, c := range f.Conversions {
			goals = append(goals, c.GoalID)
		}
		return list(goals)
	}},
	{Name: "conversion.total_value", Category: "conversion", read: func(f Facts) (value, bool) {
		total := 0.0
		for _, c := range f.Conversions {
			total += c.Value
		}
		return num(total)
	}},

	{Name: "segment.ids", Category: "segment", read: func(f Facts) (value, bool) {
		return list(f.Segments.IDs())
	}},
	{Name: "segment.primary", Category: "segment", read: func(f Facts) (value, bool) {
		return str(f.Segments.Primary)
	}},

	{Name: "page.path", Category: "page", read: func(f Facts) (value, bool) {
		return str(f.Page)
	}},
}

var fieldsByName = func() map[string]Field {
	m := make(map[string]Field, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return m
}()

// LookupField returns the field registered under name.
func LookupField(name string) (Field, bool) {
	f, ok := fieldsByName[name]
	return f, ok
}

func topKey(counts map[string]int) string {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}
