package segmentation

import "edumarket/api/models"

func cond(field, op string, v any, w float64) models.Condition {
	return models.Condition{Field: field, Operator: op, Value: v, Weight: w}
}

func oneOf(field string, values []string, w float64) models.Condition {
	return models.Condition{Field: field, Operator: "in", Values: values, Weight: w}
}

func between(field string, lo, hi, w float64) models.Condition {
	return models.Condition{Field: field, Operator: "between", Min: lo, Max: hi, Weight: w}
}

// DefaultSegments is the built-in segment table.
func DefaultSegments() []models.SegmentDefinition {
	return []models.SegmentDefinition{
		{
			ID:          "paid_searcher",
			Name:        "Paid Searcher",
			Description: "Arrived from a paid search or ad click",
			Priority:    9,
			Criteria: []models.Condition{
				cond("traffic.type", "equals", "paid", 3),
				oneOf("utm.medium", []string{"cpc", "ppc", "paid", "paidsearch"}, 2),
				oneOf("traffic.source", []string{"google", "bing", "yahoo"}, 1),
			},
			Personalization: map[string]any{"headline": "Start learning today", "cta": "Claim your offer"},
		},
		{
			ID:          "social_discoverer",
			Name:        "Social Discoverer",
			Description: "Found the site through a social platform",
			Priority:    6,
			Criteria: []models.Condition{
				cond("traffic.type", "equals", "social", 3),
				oneOf("traffic.source", []string{"facebook", "instagram", "linkedin", "tiktok", "twitter", "youtube"}, 1),
				cond("behavior.page_views", "less_than", 4, 1),
			},
			Personalization: map[string]any{"headline": "Join thousands of learners", "cta": "See student stories"},
		},
		{
			ID:          "email_subscriber",
			Name:        "Email Subscriber",
			Description: "Came back from a newsletter or email campaign",
			Priority:    7,
			Criteria: []models.Condition{
				cond("traffic.type", "equals", "email", 3),
				cond("utm.medium", "contains", "email", 1),
				cond("temporal.visit_count", "greater_than", 1, 1),
			},
			Personalization: map[string]any{"headline": "Welcome back", "cta": "Continue where you left off"},
		},
		{
			ID:          "high_intent_prospect",
			Name:        "High-Intent Prospect",
			Description: "Looked at pricing, submitted forms or clicked enrolment calls to action",
			Priority:    10,
			Criteria: []models.Condition{
				cond("engagement.intent", "greater_than", 0.5, 3),
				cond("behavior.pricing_views", "greater_than", 0, 2),
				cond("behavior.form_submits", "greater_than", 0, 2),
				oneOf("engagement.level", []string{"high", "very_high"}, 1),
			},
			Personalization: map[string]any{"headline": "Your seat is waiting", "cta": "Enroll now"},
		},
		{
			ID:          "career_changer",
			Name:        "Career Changer",
			Description: "Researching a move into a new field",
			Priority:    8,
			Criteria: []models.Condition{
				cond("utm.campaign", "contains", "career", 2),
				cond("behavior.pages_visited", "contains", "career", 2),
				cond("utm.term", "contains", "career", 1),
				between("temporal.hour", 18, 23, 1),
			},
			Personalization: map[string]any{"headline": "Switch careers in 12 weeks", "cta": "Talk to an advisor"},
		},
		{
			ID:          "returning_researcher",
			Name:        "Returning Researcher",
			Description: "Several visits and many pages read",
			Priority:    5,
			Criteria: []models.Condition{
				cond("temporal.visit_count", "greater_than", 2, 3),
				cond("behavior.page_views", "greater_than", 4, 2),
				cond("engagement.score", "greater_than", 0.4, 1),
			},
			Personalization: map[string]any{"headline": "Compare our programs", "cta": "Download the syllabus"},
		},
		{
			ID:          "mobile_learner",
			Name:        "Mobile Learner",
			Description: "Browses from a phone or tablet",
			Priority:    4,
			Criteria: []models.Condition{
				oneOf("device.type", []string{"mobile", "tablet"}, 3),
				cond("behavior.video_completions", "greater_than", 0, 1),
			},
			Personalization: map[string]any{"headline": "Learn on the go", "cta": "Get the app"},
		},
		{
			ID:          "weekend_browser",
			Name:        "Weekend Browser",
			Description: "Visits on Saturdays and Sundays",
			Priority:    3,
			Criteria: []models.Condition{
				cond("temporal.is_weekend", "equals", "true", 3),
				cond("behavior.time_on_site", "greater_than", 120, 1),
			},
			Personalization: map[string]any{"headline": "Weekend study plans", "cta": "See part-time options"},
		},
		{
			ID:          "price_sensitive",
			Name:        "Price Sensitive",
			Description: "Keeps returning to pricing or searches for discounts",
			Priority:    6,
			Criteria: []models.Condition{
				cond("behavior.pricing_views", "greater_than", 1, 3),
				oneOf("utm.term", []string{"cheap", "affordable", "discount", "scholarship", "free"}, 1),
				cond("behavior.exit_intents", "greater_than", 0, 1),
			},
			Personalization: map[string]any{"headline": "Flexible payment plans", "cta": "See financing"},
		},
		{
			ID:          "converted_student",
			Name:        "Converted Student",
			Description: "Already completed a conversion goal",
			Priority:    10,
			Criteria: []models.Condition{
				cond("conversion.count", "greater_than", 0, 3),
				oneOf("conversion.goals", []string{"enrollment", "purchase"}, 2),
			},
			Personalization: map[string]any{"headline": "Welcome to the community", "cta": "Go to your dashboard"},
		},
	}
}
