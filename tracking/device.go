package tracking

import (
	"net"
	"strings"

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"

	"edumarket/api/models"
)

// Locator resolves a client IP to an ISO country code.
type Locator interface {
	Country(ip string) string
}

// GeoLocator looks countries up in a MaxMind GeoIP2/GeoLite2 database.
type GeoLocator struct {
	reader *geoip2.Reader
}

// OpenGeoLocator opens the database at path. An empty path or a failed open
// yields a nil locator and device detection simply leaves Country empty.
func OpenGeoLocator(path string) *GeoLocator {
	if path == "" {
		return nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("GeoIP database unavailable, country lookup disabled")
		return nil
	}
	return &GeoLocator{reader: reader}
}

func (g *GeoLocator) Country(ip string) string {
	if g == nil || g.reader == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	record, err := g.reader.Country(parsed)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

func (g *GeoLocator) Close() {
	if g != nil && g.reader != nil {
		g.reader.Close()
	}
}

// DetectDevice derives the device descriptor from a User-Agent header.
func DetectDevice(userAgent, clientIP string, loc Locator) models.DeviceInfo {
	info := models.DeviceInfo{Type: "desktop", OS: "unknown", Browser: "unknown"}
	if userAgent != "" {
		ua := useragent.New(userAgent)
		info.Browser, info.BrowserVersion = ua.Browser()
		if os := ua.OS(); os != "" {
			info.OS = os
		}
		info.Type = deviceType(ua, userAgent)
	}
	if loc != nil && clientIP != "" {
		info.Country = loc.Country(clientIP)
	}
	return info
}

func deviceType(ua *useragent.UserAgent, raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case ua.Bot():
		return "bot"
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") ||
		(strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")):
		return "tablet"
	case ua.Mobile():
		return "mobile"
	default:
		return "desktop"
	}
}
