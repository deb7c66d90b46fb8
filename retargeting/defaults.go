package retargeting

import (
	"time"

	"edumarket/api/models"
)

const day = 24 * time.Hour

func DefaultCampaigns() []models.RetargetingCampaign {
	return []models.RetargetingCampaign{
		{
			ID:          "exit_syllabus",
			Name:        "Exit intent: free syllabus",
			Trigger:     models.TriggerExitIntent,
			Priority:    5,
			MaxDisplays: 2,
			Cooldown:    day,
			Content:     map[string]any{"title": "Before you go", "body": "Get the full syllabus in your inbox", "cta": "Send it to me"},
		},
		{
			ID:          "exit_scholarship",
			Name:        "Exit intent: scholarship for price-sensitive visitors",
			Trigger:     models.TriggerExitIntent,
			Priority:    8,
			MaxDisplays: 1,
			Conditions: []models.Condition{
				{Field: "segment.ids", Operator: "contains", Value: "price_sensitive", Weight: 2},
				{Field: "behavior.pricing_views", Operator: "greater_than", Value: 0, Weight: 1},
			},
			Content: map[string]any{"title": "Scholarships available", "body": "Up to 30% off this intake", "cta": "Check eligibility"},
		},
		{
			ID:          "pricing_help",
			Name:        "Pricing questions",
			Trigger:     models.TriggerTimeOnPage,
			Threshold:   60,
			Priority:    4,
			MaxDisplays: 1,
			Conditions: []models.Condition{
				{Field: "page.path", Operator: "contains", Value: "pricing", Weight: 1},
			},
			Content: map[string]any{"title": "Questions about pricing?", "cta": "Chat with admissions"},
		},
		{
			ID:          "deep_reader",
			Name:        "Deep reader guide",
			Trigger:     models.TriggerScrollDepth,
			Threshold:   75,
			Priority:    3,
			MaxDisplays: 3,
			Cooldown:    2 * day,
			Conditions: []models.Condition{
				{Field: "page.path", Operator: "contains", Value: "/blog", Weight: 1},
			},
			Content: map[string]any{"title": "Enjoying this?", "cta": "Get the career guide"},
		},
		{
			ID:          "browse_abandon",
			Name:        "Browsing without converting",
			Trigger:     models.TriggerPageCount,
			Threshold:   4,
			Priority:    2,
			MaxDisplays: 1,
			Conditions: []models.Condition{
				{Field: "conversion.count", Operator: "less_than", Value: 1, Weight: 1},
			},
			Content: map[string]any{"title": "Not sure where to start?", "cta": "Take the career quiz"},
		},
	}
}

func DefaultAudiences() []models.Audience {
	return []models.Audience{
		{
			ID:   "pricing_viewers",
			Name: "Viewed pricing",
			Conditions: []models.Condition{
				{Field: "behavior.pricing_views", Operator: "greater_than", Value: 0, Weight: 1},
			},
			Membership:  30 * day,
			PixelEvents: []string{"ViewContent"},
		},
		{
			ID:   "high_intent_non_converters",
			Name: "High intent, not converted",
			Conditions: []models.Condition{
				{Field: "engagement.intent", Operator: "greater_than", Value: 0.5, Weight: 2},
				{Field: "conversion.count", Operator: "less_than", Value: 1, Weight: 1},
			},
			MinScore:    0.9,
			Membership:  14 * day,
			PixelEvents: []string{"Lead", "InitiateCheckout"},
		},
		{
			ID:   "quiz_takers",
			Name: "Completed the career quiz",
			Conditions: []models.Condition{
				{Field: "conversion.goals", Operator: "in", Values: []string{"quiz_completed"}, Weight: 1},
			},
			Membership:  60 * day,
			PixelEvents: []string{"CompleteRegistration"},
		},
	}
}
