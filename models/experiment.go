package models

import "time"

// Performance counts impressions, clicks and conversions.
type Performance struct {
	Impressions int `json:"impressions"`
	Clicks      int `json:"clicks"`
	Conversions int `json:"conversions"`
}

func (p Performance) CTR() float64 {
	if p.Impressions == 0 {
		return 0
	}
	return float64(p.Clicks) / float64(p.Impressions)
}

func (p Performance) ConversionRate() float64 {
	if p.Impressions == 0 {
		return 0
	}
	return float64(p.Conversions) / float64(p.Impressions)
}

type Variant struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Weight      float64        `json:"weight"`
	Control     bool           `json:"control,omitempty"`
	Content     map[string]any `json:"content,omitempty"`
	Performance Performance    `json:"performance"`
}

type ExperimentStatus string

const (
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentPaused    ExperimentStatus = "paused"
	ExperimentCompleted ExperimentStatus = "completed"
)

type Experiment struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Status    ExperimentStatus `json:"status"`
	Variants  []Variant        `json:"variants"`
	Targeting []Condition      `json:"targeting,omitempty"`
	GoalID    string           `json:"goalId,omitempty"`
	StartedAt time.Time        `json:"startedAt"`
	Winner    string           `json:"winner,omitempty"`
}

type ExperimentAssignment struct {
	ExperimentID string    `json:"experimentId"`
	VariantID    string    `json:"variantId"`
	SessionID    string    `json:"sessionId"`
	AssignedAt   time.Time `json:"assignedAt"`
	Converted    bool      `json:"converted,omitempty"`
}

type VariantResult struct {
	VariantID      string  `json:"variantId"`
	ConversionRate float64 `json:"conversionRate"`
	Lift           float64 `json:"lift"`
	ZScore         float64 `json:"zScore"`
	PValue         float64 `json:"pValue"`
	Confidence     float64 `json:"confidence"`
	Significant    bool    `json:"significant"`
}

type ExperimentResult struct {
	ExperimentID string          `json:"experimentId"`
	Control      string          `json:"control"`
	Variants     []VariantResult `json:"variants"`
	Winner       string          `json:"winner,omitempty"`
}
