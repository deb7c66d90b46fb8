package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"edumarket/api/utils"
)

const (
	VisitorHeader = "X-Visitor-ID"
	VisitorCookie = "edm_vid"
	visitorKey    = "visitor_id"

	visitorCookieMaxAge = 400 * 24 * 60 * 60
)

// Visitor identifies the browser behind a request. The id is read from the
// X-Visitor-ID header, then the visitor cookie; when neither holds a valid id
// a new one is issued. The id is echoed back in both places.
func Visitor(secureCookie bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := utils.NormalizeVisitorID(c.GetHeader(VisitorHeader))
		if !ok {
			if cookie, err := c.Cookie(VisitorCookie); err == nil {
				id, ok = utils.NormalizeVisitorID(cookie)
			}
		}
		if !ok {
			id = utils.NewVisitorID()
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(VisitorCookie, id, visitorCookieMaxAge, "/", "", secureCookie, true)
		c.Header(VisitorHeader, id)
		c.Set(visitorKey, id)
		c.Next()
	}
}

// VisitorID returns the id set by Visitor.
func VisitorID(c *gin.Context) string {
	return c.GetString(visitorKey)
}
