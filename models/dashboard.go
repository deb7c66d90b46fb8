package models

import "time"

type EventTypeCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

type ChannelStat struct {
	Source      string  `json:"source"`
	Medium      string  `json:"medium"`
	Conversions uint64  `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

type GoalStat struct {
	GoalID      string  `json:"goalId"`
	Conversions uint64  `json:"conversions"`
	Value       float64 `json:"value"`
}

type SegmentStat struct {
	Segment     string  `json:"segment"`
	Conversions uint64  `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// Dashboard is the marketing overview for one reporting period.
type Dashboard struct {
	Period         string                 `json:"period"`
	Start          time.Time              `json:"start"`
	End            time.Time              `json:"end"`
	Visitors       uint64                 `json:"visitors"`
	Sessions       uint64                 `json:"sessions"`
	PageViews      uint64                 `json:"pageViews"`
	Conversions    uint64                 `json:"conversions"`
	Revenue        float64                `json:"revenue"`
	ConversionRate float64                `json:"conversionRate"`
	Channels       []ChannelStat          `json:"channels"`
	Goals          []GoalStat             `json:"goals"`
	Segments       []SegmentStat          `json:"segments"`
	TopPages       []TopPathResult        `json:"topPages"`
	DailyVisitors  []EventTypeCountByTime `json:"dailyVisitors"`
}

type ExportAction string

const (
	ExportEvents      ExportAction = "events"
	ExportConversions ExportAction = "conversions"
	ExportChannels    ExportAction = "channels"
)

type ExportRequest struct {
	Action  ExportAction `json:"action" binding:"required,oneof=events conversions channels"`
	Period  string       `json:"period"`
	Segment string       `json:"segment"`
}

type ExportResult struct {
	Action  ExportAction `json:"action"`
	Period  string       `json:"period"`
	Segment string       `json:"segment,omitempty"`
	Start   time.Time    `json:"start"`
	End     time.Time    `json:"end"`
	Count   int          `json:"count"`
	Rows    any          `json:"rows"`
}
