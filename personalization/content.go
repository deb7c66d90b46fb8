package personalization

import "edumarket/api/models"

func when(field, op string, v any, w float64) models.Condition {
	return models.Condition{Field: field, Operator: op, Value: v, Weight: w}
}

// DefaultRules are the built-in slot overrides.
func DefaultRules() []models.PersonalizationRule {
	return []models.PersonalizationRule{
		{
			ID:       "hero_paid",
			Slot:     "hero",
			Priority: 1,
			Conditions: []models.Condition{
				when("segment.ids", "contains", "paid_searcher", 2),
				when("traffic.type", "equals", "paid", 1),
			},
			Content: map[string]any{"headline": "The course you searched for starts Monday", "cta": "Reserve your seat"},
		},
		{
			ID:       "hero_career",
			Slot:     "hero",
			Priority: 2,
			Conditions: []models.Condition{
				when("segment.ids", "contains", "career_changer", 1),
			},
			Content: map[string]any{"headline": "Change careers without quitting your job", "cta": "Book a call"},
		},
		{
			ID:       "hero_high_intent",
			Slot:     "hero",
			Priority: 3,
			Conditions: []models.Condition{
				when("engagement.intent", "greater_than", 0.5, 2),
				when("behavior.pricing_views", "greater_than", 0, 1),
			},
			Content: map[string]any{"cta": "Enroll now", "urgency": "Only a few seats left this intake"},
		},
		{
			ID:       "pricing_sensitive",
			Slot:     "pricing",
			Priority: 1,
			Conditions: []models.Condition{
				when("segment.ids", "contains", "price_sensitive", 1),
			},
			Content: map[string]any{"banner": "Pay monthly with 0% financing"},
		},
		{
			ID:       "cta_mobile",
			Slot:     "cta",
			Priority: 1,
			Conditions: []models.Condition{
				when("device.type", "equals", "mobile", 1),
			},
			Content: map[string]any{"label": "Get the syllabus by text"},
		},
		{
			ID:       "cta_evening",
			Slot:     "cta",
			Priority: 2,
			Conditions: []models.Condition{
				{Field: "temporal.hour", Operator: "between", Min: 18, Max: 23, Weight: 1},
				when("page.path", "contains", "/courses", 1),
			},
			Content: map[string]any{"label": "Join tonight's live info session"},
		},
	}
}

// DefaultVariations are the static per-slot variations.
func DefaultVariations() []models.ContentVariation {
	return []models.ContentVariation{
		{
			ID:       "hero_social_proof",
			Slot:     "hero",
			Segments: []string{"social_discoverer", "mobile_learner"},
			Content:  map[string]any{"testimonial": "I landed my first developer job in 5 months."},
		},
		{
			ID:       "hero_roi",
			Slot:     "hero",
			Segments: []string{"career_changer", "price_sensitive"},
			Content:  map[string]any{"stat": "Graduates report a 42% salary increase"},
		},
		{
			ID:       "hero_returning",
			Slot:     "hero",
			Segments: []string{"returning_researcher", "email_subscriber"},
			Content:  map[string]any{"subheadline": "Pick up where you left off"},
		},
		{
			ID:       "pricing_plans",
			Slot:     "pricing",
			Segments: []string{"high_intent_prospect", "paid_searcher"},
			Content:  map[string]any{"highlight": "upfront"},
		},
		{
			ID:       "pricing_installments",
			Slot:     "pricing",
			Segments: []string{"price_sensitive", "weekend_browser"},
			Content:  map[string]any{"highlight": "installments"},
		},
	}
}

// DefaultCatalog is the recommendation catalog.
func DefaultCatalog() []models.CatalogItem {
	return []models.CatalogItem{
		{ID: "web-dev-bootcamp", Title: "Full-Stack Web Development Bootcamp", Category: "web-development", Format: "bootcamp",
			Keywords: []string{"web", "javascript", "bootcamp", "career"}, TargetSegments: []string{"career_changer", "high_intent_prospect"}},
		{ID: "data-science", Title: "Data Science Professional Certificate", Category: "data-science", Format: "course",
			Keywords: []string{"data", "python", "analytics"}, TargetSegments: []string{"returning_researcher", "paid_searcher"}},
		{ID: "ux-design", Title: "UX Design Foundations", Category: "design", Format: "course",
			Keywords: []string{"ux", "design", "figma"}, TargetSegments: []string{"social_discoverer"}},
		{ID: "python-basics", Title: "Python in 30 Days", Category: "data-science", Format: "video",
			Keywords: []string{"python", "beginner", "free"}, TargetSegments: []string{"mobile_learner", "price_sensitive"}},
		{ID: "cloud-cert", Title: "Cloud Engineering Certification", Category: "cloud", Format: "course",
			Keywords: []string{"cloud", "aws", "devops"}, TargetSegments: []string{"career_changer"}},
		{ID: "career-webinar", Title: "Breaking into Tech: Live Webinar", Category: "career", Format: "webinar",
			Keywords: []string{"career", "webinar", "switch"}, TargetSegments: []string{"weekend_browser", "email_subscriber"}},
	}
}

// DefaultMessages maps a message kind to templates by segment id. The
// "default" entry is used when no segment has its own.
func DefaultMessages() map[string]map[string]string {
	return map[string]map[string]string{
		"welcome": {
			"default":              "Welcome to EduMarket",
			"paid_searcher":        "Welcome! You found us through {source}, here's what you were looking for",
			"email_subscriber":     "Good to see you again, thanks for reading our {campaign} email",
			"returning_researcher": "Welcome back! This is visit number {visits}",
			"converted_student":    "Welcome back, student",
		},
		"cta": {
			"default":              "Explore courses",
			"high_intent_prospect": "Enroll today",
			"price_sensitive":      "See payment options",
			"career_changer":       "Talk to a career advisor",
		},
		"exit": {
			"default":         "Before you go, get the free syllabus",
			"price_sensitive": "Wait! Scholarships are available this intake",
			"paid_searcher":   "Leaving already? Your {campaign} offer is still open",
		},
	}
}
