package models

import "time"

type GoalConditionType string

const (
	ConditionPageVisit    GoalConditionType = "page_visit"
	ConditionElementClick GoalConditionType = "element_click"
	ConditionFormSubmit   GoalConditionType = "form_submit"
	ConditionTimeSpent    GoalConditionType = "time_spent"
	ConditionScrollDepth  GoalConditionType = "scroll_depth"
	ConditionCustomEvent  GoalConditionType = "custom_event"
)

// GoalCondition matches journey data. Target is a page path, element id or
// event name depending on Type; Threshold is seconds for time_spent and a
// percentage for scroll_depth.
type GoalCondition struct {
	Type      GoalConditionType `json:"type"`
	Target    string            `json:"target,omitempty"`
	Threshold float64           `json:"threshold,omitempty"`
	Weight    float64           `json:"weight"`
}

type ConversionGoal struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Type             string          `json:"type"`
	Value            float64         `json:"value"`
	Conditions       []GoalCondition `json:"conditions"`
	AttributionModel string          `json:"attributionModel,omitempty"`
}

type FunnelStep struct {
	Name      string        `json:"name"`
	Condition GoalCondition `json:"condition"`
	Required  bool          `json:"required"`
}

type Funnel struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	GoalID string       `json:"goalId"`
	Steps  []FunnelStep `json:"steps"`
}

type AttributionCredit struct {
	TouchpointID string  `json:"touchpointId"`
	Source       string  `json:"source"`
	Medium       string  `json:"medium"`
	Campaign     string  `json:"campaign,omitempty"`
	Weight       float64 `json:"weight"`
	Value        float64 `json:"value"`
}

// ConversionEvent is immutable once written.
type ConversionEvent struct {
	ID               string              `json:"id"`
	SessionID        string              `json:"sessionId"`
	GoalID           string              `json:"goalId"`
	GoalType         string              `json:"goalType"`
	Value            float64             `json:"value"`
	Timestamp        time.Time           `json:"timestamp"`
	TimeToConvertMs  int64               `json:"timeToConvertMs"`
	TouchpointCount  int                 `json:"touchpointCount"`
	TouchpointIDs    []string            `json:"touchpointIds"`
	AttributionModel string              `json:"attributionModel"`
	Attribution      []AttributionCredit `json:"attribution"`
}

// ConversionRow is a conversion as mirrored to the warehouse, with the
// visitor's context at the time it fired.
type ConversionRow struct {
	ConversionEvent
	VisitorID string `json:"visitorId"`
	Segment   string `json:"segment"`
	Source    string `json:"source"`
	Medium    string `json:"medium"`
	Campaign  string `json:"campaign"`
}

type FunnelStepReport struct {
	Name           string  `json:"name"`
	Entered        int     `json:"entered"`
	Completed      int     `json:"completed"`
	CompletionRate float64 `json:"completionRate"`
	DropOffRate    float64 `json:"dropOffRate"`
}

type FunnelReport struct {
	FunnelID              string             `json:"funnelId"`
	Sessions              int                `json:"sessions"`
	Steps                 []FunnelStepReport `json:"steps"`
	OverallConversionRate float64            `json:"overallConversionRate"`
}
