package models

import "time"

// SegmentDefinition is code-defined; Criteria are evaluated by the rules
// package.
type SegmentDefinition struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Priority        int            `json:"priority"`
	Criteria        []Condition    `json:"criteria"`
	Targeting       map[string]any `json:"targeting,omitempty"`
	Personalization map[string]any `json:"personalization,omitempty"`
}

type SegmentMatch struct {
	SegmentID       string   `json:"segmentId"`
	Name            string   `json:"name"`
	Score           float64  `json:"score"`
	Confidence      float64  `json:"confidence"`
	MatchedCriteria []string `json:"matchedCriteria"`
	Priority        int      `json:"priority"`
}

type UserSegments struct {
	SessionID  string         `json:"sessionId"`
	Matches    []SegmentMatch `json:"matches"`
	Primary    string         `json:"primary,omitempty"`
	ComputedAt time.Time      `json:"computedAt"`
}

// Has reports whether segmentID is among the matches.
func (u UserSegments) Has(segmentID string) bool {
	for _, m := range u.Matches {
		if m.SegmentID == segmentID {
			return true
		}
	}
	return false
}

func (u UserSegments) IDs() []string {
	ids := make([]string, 0, len(u.Matches))
	for _, m := range u.Matches {
		ids = append(ids, m.SegmentID)
	}
	return ids
}
