// Package conversion fires goals from journey data, attributes their value
// over touchpoints and analyzes funnels.
package conversion

import (
	"math"
	"strings"

	"edumarket/api/models"
)

// GoalThreshold is the weighted condition score at which a goal fires.
const GoalThreshold = 0.8

// Evidence is the journey data conditions are matched against.
type Evidence struct {
	Steps  []models.JourneyStep
	Pages  []models.PageMetrics
	Events []models.AnalyticsEvent
}

// ConditionScore returns how far c is satisfied, in [0,1]. Time and scroll
// thresholds earn partial credit; the rest is all or nothing.
func ConditionScore(c models.GoalCondition, ev Evidence) float64 {
	switch c.Type {
	case models.ConditionPageVisit:
		for _, p := range ev.Pages {
			if pathMatches(p.Page, c.Target) {
				return 1
			}
		}
	case models.ConditionElementClick:
		for _, s := range ev.Steps {
			if strings.HasPrefix(s.Action, "click") && strings.EqualFold(s.Element, c.Target) {
				return 1
			}
		}
	case models.ConditionFormSubmit:
		for _, s := range ev.Steps {
			if s.Action == "submit" && (c.Target == "" || strings.EqualFold(s.Element, c.Target) || pathMatches(s.Page, c.Target)) {
				return 1
			}
		}
		for _, p := range ev.Pages {
			if p.FormSubmits > 0 && (c.Target == "" || pathMatches(p.Page, c.Target)) {
				return 1
			}
		}
	case models.ConditionTimeSpent:
		var ms int64
		for _, p := range ev.Pages {
			if c.Target == "" || pathMatches(p.Page, c.Target) {
				ms += p.DurationMs
			}
		}
		return partial(float64(ms)/1000, c.Threshold)
	case models.ConditionScrollDepth:
		depth := 0.0
		for _, p := range ev.Pages {
			if c.Target == "" || pathMatches(p.Page, c.Target) {
				depth = math.Max(depth, p.ScrollDepth)
			}
		}
		return partial(depth, c.Threshold)
	case models.ConditionCustomEvent:
		for _, e := range ev.Events {
			if strings.EqualFold(e.EventType, c.Target) {
				return 1
			}
		}
	}
	return 0
}

// GoalScore is the weighted average of the goal's condition scores.
func GoalScore(conds []models.GoalCondition, ev Evidence) float64 {
	var sum, weights float64
	for _, c := range conds {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		sum += w * ConditionScore(c, ev)
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func partial(v, threshold float64) float64 {
	if threshold <= 0 {
		if v > 0 {
			return 1
		}
		return 0
	}
	return math.Min(v/threshold, 1)
}

// pathMatches compares page paths; a trailing "*" matches a prefix.
func pathMatches(page, target string) bool {
	if target == "" {
		return false
	}
	if prefix, ok := strings.CutSuffix(target, "*"); ok {
		return strings.HasPrefix(page, prefix)
	}
	return strings.TrimSuffix(page, "/") == strings.TrimSuffix(target, "/") || page == target
}

// DefaultGoals are the site's built-in conversion goals.
func DefaultGoals() []models.ConversionGoal {
	return []models.ConversionGoal{
		{
			ID:    "enrollment",
			Name:  "Course Enrollment",
			Type:  "purchase",
			Value: 499,
			Conditions: []models.GoalCondition{
				{Type: models.ConditionPageVisit, Target: "/enroll/success", Weight: 3},
				{Type: models.ConditionFormSubmit, Target: "/enroll*", Weight: 2},
			},
		},
		{
			ID:    "lead",
			Name:  "Information Request",
			Type:  "lead",
			Value: 50,
			Conditions: []models.GoalCondition{
				{Type: models.ConditionFormSubmit, Target: "/contact*", Weight: 3},
				{Type: models.ConditionTimeSpent, Threshold: 60, Weight: 1},
			},
		},
		{
			ID:    "quiz_completed",
			Name:  "Career Quiz Completed",
			Type:  "engagement",
			Value: 20,
			Conditions: []models.GoalCondition{
				{Type: models.ConditionCustomEvent, Target: "quiz_completed", Weight: 1},
			},
		},
		{
			ID:    "syllabus_download",
			Name:  "Syllabus Download",
			Type:  "lead",
			Value: 25,
			Conditions: []models.GoalCondition{
				{Type: models.ConditionElementClick, Target: "download-syllabus", Weight: 3},
				{Type: models.ConditionPageVisit, Target: "/courses/*", Weight: 1},
			},
		},
		{
			ID:    "engaged_reader",
			Name:  "Engaged Reader",
			Type:  "engagement",
			Value: 5,
			Conditions: []models.GoalCondition{
				{Type: models.ConditionScrollDepth, Threshold: 75, Weight: 1},
				{Type: models.ConditionTimeSpent, Threshold: 180, Weight: 1},
			},
		},
	}
}

// DefaultFunnels are the built-in funnels.
func DefaultFunnels() []models.Funnel {
	return []models.Funnel{
		{
			ID:     "enrollment",
			Name:   "Enrollment Funnel",
			GoalID: "enrollment",
			Steps: []models.FunnelStep{
				{Name: "Landing", Condition: models.GoalCondition{Type: models.ConditionPageVisit, Target: "/*"}, Required: true},
				{Name: "Course Page", Condition: models.GoalCondition{Type: models.ConditionPageVisit, Target: "/courses/*"}, Required: true},
				{Name: "Pricing", Condition: models.GoalCondition{Type: models.ConditionPageVisit, Target: "/pricing"}},
				{Name: "Application", Condition: models.GoalCondition{Type: models.ConditionFormSubmit, Target: "/enroll*"}, Required: true},
				{Name: "Enrolled", Condition: models.GoalCondition{Type: models.ConditionPageVisit, Target: "/enroll/success"}, Required: true},
			},
		},
		{
			ID:     "quiz",
			Name:   "Career Quiz Funnel",
			GoalID: "quiz_completed",
			Steps: []models.FunnelStep{
				{Name: "Quiz Started", Condition: models.GoalCondition{Type: models.ConditionPageVisit, Target: "/quiz"}, Required: true},
				{Name: "Quiz Completed", Condition: models.GoalCondition{Type: models.ConditionCustomEvent, Target: "quiz_completed"}, Required: true},
				{Name: "Signed Up", Condition: models.GoalCondition{Type: models.ConditionFormSubmit, Target: "/signup"}},
			},
		},
	}
}
