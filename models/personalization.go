package models

import "time"

type PersonalizationRule struct {
	ID         string         `json:"id"`
	Slot       string         `json:"slot"`
	Priority   int            `json:"priority"`
	Conditions []Condition    `json:"conditions"`
	Content    map[string]any `json:"content"`
}

type ContentVariation struct {
	ID          string         `json:"id"`
	Slot        string         `json:"slot"`
	Segments    []string       `json:"segments"`
	Content     map[string]any `json:"content"`
	Impressions int            `json:"impressions"`
	Conversions int            `json:"conversions"`
}

// ConversionRate is conversions over impressions, 0 without impressions.
func (v ContentVariation) ConversionRate() float64 {
	if v.Impressions == 0 {
		return 0
	}
	return float64(v.Conversions) / float64(v.Impressions)
}

type PersonalizedContent struct {
	Slot         string         `json:"slot"`
	Content      map[string]any `json:"content"`
	AppliedRules []string       `json:"appliedRules"`
	VariationID  string         `json:"variationId,omitempty"`
	Confidence   float64        `json:"confidence"`
	GeneratedAt  time.Time      `json:"generatedAt"`
}

// Preferences accumulate what the visitor has looked at.
type Preferences struct {
	Categories map[string]int `json:"categories"`
	Formats    map[string]int `json:"formats"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

type CatalogItem struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Category       string   `json:"category"`
	Format         string   `json:"format"`
	Keywords       []string `json:"keywords"`
	TargetSegments []string `json:"targetSegments"`
}

type Recommendation struct {
	Item    CatalogItem `json:"item"`
	Score   float64     `json:"score"`
	Reasons []string    `json:"reasons"`
}
