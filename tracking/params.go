// Package tracking captures campaign parameters, keeps the visitor's session
// for the attribution window and classifies where traffic came from.
package tracking

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"edumarket/api/models"
)

// RecognizedParams lists every query parameter captured into UTMParams.
var RecognizedParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "utm_id",
	"utm_source_platform", "utm_creative_format", "utm_marketing_tactic",
	"gclid", "fbclid", "msclkid", "ttclid", "li_fat_id",
}

// ParseURL extracts the recognized parameters and the page path from a full
// or relative URL.
func ParseURL(raw string, now time.Time) (models.UTMParams, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return models.UTMParams{}, "", fmt.Errorf("invalid page url: %w", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return ParseQuery(u.Query(), now), path, nil
}

// ParseQuery reads the recognized parameters out of q. CapturedAt is set
// only when at least one parameter was present.
func ParseQuery(q url.Values, now time.Time) models.UTMParams {
	get := func(name string) string { return strings.TrimSpace(q.Get(name)) }
	p := models.UTMParams{
		Source:          get("utm_source"),
		Medium:          get("utm_medium"),
		Campaign:        get("utm_campaign"),
		Term:            get("utm_term"),
		Content:         get("utm_content"),
		ID:              get("utm_id"),
		SourcePlatform:  get("utm_source_platform"),
		CreativeFormat:  get("utm_creative_format"),
		MarketingTactic: get("utm_marketing_tactic"),
		GCLID:           get("gclid"),
		FBCLID:          get("fbclid"),
		MSCLKID:         get("msclkid"),
		TTCLID:          get("ttclid"),
		LiFatID:         get("li_fat_id"),
	}
	if !p.Empty() {
		p.CapturedAt = now
	}
	return p
}
