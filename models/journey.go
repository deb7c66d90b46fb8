package models

import "time"

// Interaction is a DOM event as posted by the site's tracking script.
type Interaction struct {
	Type        string         `json:"type" binding:"required"`
	Page        string         `json:"page"`
	Element     string         `json:"element,omitempty"`
	ElementType string         `json:"elementType,omitempty"`
	Value       string         `json:"value,omitempty"`
	X           int            `json:"x,omitempty"`
	Y           int            `json:"y,omitempty"`
	ScrollDepth float64        `json:"scrollDepth,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type JourneyStep struct {
	SessionID   string         `json:"sessionId"`
	Timestamp   time.Time      `json:"timestamp"`
	Page        string         `json:"page"`
	Action      string         `json:"action"`
	Element     string         `json:"element,omitempty"`
	Value       string         `json:"value,omitempty"`
	DurationMs  int64          `json:"durationMs"`
	ScrollDepth float64        `json:"scrollDepth"`
	ExitIntent  bool           `json:"exitIntent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type PageMetrics struct {
	SessionID        string    `json:"sessionId"`
	Page             string    `json:"page"`
	EntryTime        time.Time `json:"entryTime"`
	ExitTime         time.Time `json:"exitTime,omitempty"`
	DurationMs       int64     `json:"durationMs"`
	ScrollDepth      float64   `json:"scrollDepth"`
	Clicks           int       `json:"clicks"`
	FormInteractions int       `json:"formInteractions"`
	FormSubmits      int       `json:"formSubmits"`
	VideoPlays       int       `json:"videoPlays"`
	VideoCompletions int       `json:"videoCompletions"`
	Downloads        int       `json:"downloads"`
	Bounced          bool      `json:"bounced"`
}

type EngagementLevel string

const (
	EngagementLow      EngagementLevel = "low"
	EngagementMedium   EngagementLevel = "medium"
	EngagementHigh     EngagementLevel = "high"
	EngagementVeryHigh EngagementLevel = "very_high"
)

// BehaviorPattern is derived from the journey log and page metrics.
type BehaviorPattern struct {
	SessionID             string          `json:"sessionId"`
	ComputedAt            time.Time       `json:"computedAt"`
	PageViews             int             `json:"pageViews"`
	TimeOnSiteMs          int64           `json:"timeOnSiteMs"`
	MaxScrollDepth        float64         `json:"maxScrollDepth"`
	Clicks                int             `json:"clicks"`
	CTAClicks             int             `json:"ctaClicks"`
	FormSubmits           int             `json:"formSubmits"`
	VideoCompletions      int             `json:"videoCompletions"`
	Downloads             int             `json:"downloads"`
	PricingViews          int             `json:"pricingViews"`
	ExitIntents           int             `json:"exitIntents"`
	PagesVisited          []string        `json:"pagesVisited"`
	EngagementScore       float64         `json:"engagementScore"`
	EngagementLevel       EngagementLevel `json:"engagementLevel"`
	IntentScore           float64         `json:"intentScore"`
	ConversionProbability float64         `json:"conversionProbability"`
}
