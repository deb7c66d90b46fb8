package models

import "time"

// UTMParams is one captured set of campaign parameters and ad-click ids.
type UTMParams struct {
	Source          string    `json:"utm_source,omitempty"`
	Medium          string    `json:"utm_medium,omitempty"`
	Campaign        string    `json:"utm_campaign,omitempty"`
	Term            string    `json:"utm_term,omitempty"`
	Content         string    `json:"utm_content,omitempty"`
	ID              string    `json:"utm_id,omitempty"`
	SourcePlatform  string    `json:"utm_source_platform,omitempty"`
	CreativeFormat  string    `json:"utm_creative_format,omitempty"`
	MarketingTactic string    `json:"utm_marketing_tactic,omitempty"`
	GCLID           string    `json:"gclid,omitempty"`
	FBCLID          string    `json:"fbclid,omitempty"`
	MSCLKID         string    `json:"msclkid,omitempty"`
	TTCLID          string    `json:"ttclid,omitempty"`
	LiFatID         string    `json:"li_fat_id,omitempty"`
	CapturedAt      time.Time `json:"capturedAt"`
}

// Empty reports whether no recognized parameter was present.
func (p UTMParams) Empty() bool {
	return p.Source == "" && p.Medium == "" && p.Campaign == "" && p.Term == "" &&
		p.Content == "" && p.ID == "" && p.SourcePlatform == "" && p.CreativeFormat == "" &&
		p.MarketingTactic == "" && !p.HasClickID()
}

func (p UTMParams) HasClickID() bool {
	return p.GCLID != "" || p.FBCLID != "" || p.MSCLKID != "" || p.TTCLID != "" || p.LiFatID != ""
}

type DeviceInfo struct {
	Type           string `json:"type"`
	OS             string `json:"os"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	Country        string `json:"country,omitempty"`
}

// Session is the visitor's record for one attribution window.
type Session struct {
	ID             string      `json:"id"`
	FirstVisit     time.Time   `json:"firstVisit"`
	LastVisit      time.Time   `json:"lastVisit"`
	VisitCount     int         `json:"visitCount"`
	OriginalParams UTMParams   `json:"originalParams"`
	LatestParams   UTMParams   `json:"latestParams"`
	ParamHistory   []UTMParams `json:"paramHistory"`
	LandingPage    string      `json:"landingPage"`
	Referrer       string      `json:"referrer"`
	Device         DeviceInfo  `json:"device"`
}

type TrafficType string

const (
	TrafficPaid     TrafficType = "paid"
	TrafficSocial   TrafficType = "social"
	TrafficEmail    TrafficType = "email"
	TrafficOrganic  TrafficType = "organic"
	TrafficReferral TrafficType = "referral"
	TrafficDirect   TrafficType = "direct"
)

type TrafficSource struct {
	Type       TrafficType `json:"type"`
	Source     string      `json:"source"`
	Medium     string      `json:"medium"`
	Campaign   string      `json:"campaign,omitempty"`
	Confidence float64     `json:"confidence"`
}

// Touchpoint is one traffic-source exposure, ordered within a session.
type Touchpoint struct {
	ID              string      `json:"id"`
	SessionID       string      `json:"sessionId"`
	Timestamp       time.Time   `json:"timestamp"`
	Position        int         `json:"position"`
	SincePreviousMs int64       `json:"sincePreviousMs"`
	Source          string      `json:"source"`
	Medium          string      `json:"medium"`
	Campaign        string      `json:"campaign,omitempty"`
	Channel         TrafficType `json:"channel"`
	Page            string      `json:"page"`
}
