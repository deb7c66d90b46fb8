package models

import (
	"encoding/json"
	"time"
)

// AnalyticsEvent is one raw site event. It is queued in the visitor's storage
// and mirrored to the warehouse on flush.
type AnalyticsEvent struct {
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	VisitorID  string          `json:"visitorId"`
	SessionID  string          `json:"sessionId"`
	Timestamp  time.Time       `json:"timestamp"`
	PagePath   string          `json:"pagePath"`
	Referrer   string          `json:"referrer,omitempty"`
	UserAgent  string          `json:"userAgent,omitempty"`
	IPAddress  string          `json:"ipAddress,omitempty"`
	Country    string          `json:"country,omitempty"`
	Channel    TrafficType     `json:"channel,omitempty"`
	DurationMs int64           `json:"durationMs"`
	EventData  json.RawMessage `json:"eventData,omitempty"`
}

type TopPathResult struct {
	PagePath string `json:"pagePath"`
	Count    uint64 `json:"count"`
}
