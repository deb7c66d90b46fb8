package tracking

import (
	"net/url"
	"strings"

	"edumarket/api/models"
)

// Confidence per classification branch. These are fixed, not computed.
const (
	ConfidencePaid     = 0.95
	ConfidenceSocial   = 0.90
	ConfidenceEmail    = 0.85
	ConfidenceOrganic  = 0.80
	ConfidenceReferral = 0.70
	ConfidenceDirect   = 0.50
)

var socialPlatforms = []string{
	"facebook", "instagram", "twitter", "x.com", "t.co", "linkedin", "lnkd.in",
	"tiktok", "youtube", "pinterest", "reddit",
}

var searchEngines = []string{"google", "bing", "yahoo", "duckduckgo", "baidu", "yandex", "ecosia"}

var clickIDSources = []struct {
	get    func(models.UTMParams) string
	source string
}{
	{func(p models.UTMParams) string { return p.GCLID }, "google"},
	{func(p models.UTMParams) string { return p.MSCLKID }, "bing"},
	{func(p models.UTMParams) string { return p.FBCLID }, "facebook"},
	{func(p models.UTMParams) string { return p.TTCLID }, "tiktok"},
	{func(p models.UTMParams) string { return p.LiFatID }, "linkedin"},
}

// Classify runs the fixed decision list: paid, social, email, organic,
// referral, direct. siteHost is the site's own host; referrers from it do not
// count as referrals.
func Classify(p models.UTMParams, referrer, siteHost string) models.TrafficSource {
	source := strings.ToLower(p.Source)
	medium := strings.ToLower(p.Medium)
	refHost := hostOf(referrer)
	out := func(t models.TrafficType, src, med string, conf float64) models.TrafficSource {
		if p.Medium != "" {
			med = p.Medium
		}
		return models.TrafficSource{Type: t, Source: src, Medium: med, Campaign: p.Campaign, Confidence: conf}
	}

	if p.HasClickID() || medium == "cpc" || medium == "ppc" {
		src := p.Source
		if src == "" {
			for _, c := range clickIDSources {
				if c.get(p) != "" {
					src = c.source
					break
				}
			}
		}
		return out(models.TrafficPaid, src, "cpc", ConfidencePaid)
	}

	if medium == "social" {
		return out(models.TrafficSocial, orDefault(p.Source, matchAny(refHost, socialPlatforms)), "social", ConfidenceSocial)
	}
	if name := matchAny(source, socialPlatforms); name != "" {
		return out(models.TrafficSocial, p.Source, "social", ConfidenceSocial)
	}
	if name := matchAny(refHost, socialPlatforms); name != "" {
		return out(models.TrafficSocial, orDefault(p.Source, name), "social", ConfidenceSocial)
	}

	if strings.Contains(medium, "email") || strings.Contains(source, "email") ||
		strings.Contains(medium, "newsletter") || strings.Contains(source, "newsletter") {
		return out(models.TrafficEmail, orDefault(p.Source, "email"), "email", ConfidenceEmail)
	}

	if medium == "organic" {
		return out(models.TrafficOrganic, orDefault(p.Source, matchAny(refHost, searchEngines)), "organic", ConfidenceOrganic)
	}
	if name := matchAny(refHost, searchEngines); name != "" {
		return out(models.TrafficOrganic, orDefault(p.Source, name), "organic", ConfidenceOrganic)
	}

	if refHost != "" && !sameSite(refHost, siteHost) {
		return out(models.TrafficReferral, orDefault(p.Source, refHost), "referral", ConfidenceReferral)
	}

	return out(models.TrafficDirect, orDefault(p.Source, "direct"), "(none)", ConfidenceDirect)
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
}

func sameSite(host, siteHost string) bool {
	siteHost = strings.ToLower(strings.TrimPrefix(siteHost, "www."))
	return siteHost != "" && (host == siteHost || strings.HasSuffix(host, "."+siteHost))
}

// matchAny returns the first platform name s refers to. Dotted names must
// match the whole host or a parent domain; bare names match a host label
// ("l.facebook.com", "google.co.uk") or a substring of a utm_source value.
func matchAny(s string, names []string) string {
	if s == "" {
		return ""
	}
	labels := strings.Split(s, ".")
	for _, n := range names {
		if strings.Contains(n, ".") {
			if s == n || strings.HasSuffix(s, "."+n) {
				return n
			}
			continue
		}
		if len(labels) == 1 {
			if strings.Contains(s, n) {
				return n
			}
			continue
		}
		for _, l := range labels {
			if l == n {
				return n
			}
		}
	}
	return ""
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
