package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edumarket/api/models"
	"edumarket/api/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func visitorRouter() *gin.Engine {
	r := gin.New()
	r.Use(Visitor(false))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, VisitorID(c)) })
	return r
}

func TestVisitorIssuesAndReusesIDs(t *testing.T) {
	r := visitorRouter()

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	issued := w.Body.String()
	_, ok := utils.NormalizeVisitorID(issued)
	require.True(t, ok)
	assert.Equal(t, issued, w.Header().Get(VisitorHeader))

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == VisitorCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, issued, cookie.Value)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookie, Value: issued})
	assert.Equal(t, issued, serve(r, req).Body.String())

	// the header wins over the cookie
	other := utils.NewVisitorID()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookie, Value: issued})
	req.Header.Set(VisitorHeader, other)
	assert.Equal(t, other, serve(r, req).Body.String())
}

func TestVisitorReplacesMalformedIDs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(VisitorHeader, "../../etc/passwd")
	got := serve(visitorRouter(), req).Body.String()
	assert.NotEqual(t, "../../etc/passwd", got)
	_, ok := utils.NormalizeVisitorID(got)
	assert.True(t, ok)
}

func TestAuthRequired(t *testing.T) {
	tokens, err := utils.NewTokenIssuer("secret", time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.Use(AuthRequired(tokens, "key"))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("auth_method")) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-KEY", "key")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "api_key", w.Body.String())

	token, err := tokens.Generate(&models.User{ID: 3, Email: "x@edumarket.io"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jwt", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://edumarket.io"}))
	r.POST("/api/track", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/track", nil)
	req.Header.Set("Origin", "https://edumarket.io")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://edumarket.io", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/api/track", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)
}
