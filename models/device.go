package models

import "time"

// Fingerprint holds the raw browser signals the site collects. Empty fields
// are treated as unknown, not as a mismatch.
type Fingerprint struct {
	Canvas    string   `json:"canvas,omitempty"`
	WebGL     string   `json:"webgl,omitempty"`
	Audio     string   `json:"audio,omitempty"`
	Fonts     []string `json:"fonts,omitempty"`
	Plugins   []string `json:"plugins,omitempty"`
	Cores     int      `json:"cores,omitempty"`
	MemoryGB  float64  `json:"memoryGb,omitempty"`
	Screen    string   `json:"screen,omitempty"`
	Timezone  string   `json:"timezone,omitempty"`
	Language  string   `json:"language,omitempty"`
	EmailHash string   `json:"emailHash,omitempty"`
}

type DeviceLink struct {
	DeviceID   string    `json:"deviceId"`
	IdentityID string    `json:"identityId"`
	Similarity float64   `json:"similarity"`
	Method     string    `json:"method"`
	LinkedAt   time.Time `json:"linkedAt"`
}
