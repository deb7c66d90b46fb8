package models

import "time"

type TriggerType string

const (
	TriggerExitIntent  TriggerType = "exit_intent"
	TriggerTimeOnPage  TriggerType = "time_on_page"
	TriggerScrollDepth TriggerType = "scroll_depth"
	TriggerPageCount   TriggerType = "page_count"
)

type RetargetingCampaign struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Trigger     TriggerType    `json:"trigger"`
	Threshold   float64        `json:"threshold,omitempty"`
	Priority    int            `json:"priority"`
	Conditions  []Condition    `json:"conditions"`
	MaxDisplays int            `json:"maxDisplays"`
	Cooldown    time.Duration  `json:"cooldown"`
	Content     map[string]any `json:"content"`
	Performance Performance    `json:"performance"`
}

type RetargetingAction string

const (
	ActionDisplay    RetargetingAction = "display"
	ActionDismiss    RetargetingAction = "dismiss"
	ActionConversion RetargetingAction = "conversion"
	ActionAudience   RetargetingAction = "audience"
)

// RetargetingRecord logs displays, dismissals, conversions and audience joins.
type RetargetingRecord struct {
	CampaignID string            `json:"campaignId"`
	SessionID  string            `json:"sessionId"`
	Action     RetargetingAction `json:"action"`
	Timestamp  time.Time         `json:"timestamp"`
	ExpiresAt  time.Time         `json:"expiresAt,omitempty"`
}

type Audience struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Conditions  []Condition   `json:"conditions"`
	MinScore    float64       `json:"minScore"`
	Membership  time.Duration `json:"membership"`
	PixelEvents []string      `json:"pixelEvents"`
	Performance Performance   `json:"performance"`
}

type AudienceMembership struct {
	AudienceID  string    `json:"audienceId"`
	Score       float64   `json:"score"`
	JoinedAt    time.Time `json:"joinedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	PixelEvents []string  `json:"pixelEvents"`
}
