package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"edumarket/api/middleware"
	"edumarket/api/orchestrator"
	"edumarket/api/utils"
	"edumarket/api/webhook"
)

// Deps are what the HTTP surface needs. Warehouse and Users may be nil when
// the service runs without ClickHouse or Postgres.
type Deps struct {
	Registry      *orchestrator.Registry
	Warehouse     Warehouse
	Users         UserRepository
	Tokens        *utils.TokenIssuer
	Webhook       *webhook.Client
	APIKey        string
	Origins       []string
	SecureCookies bool
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), middleware.CORS(d.Origins))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "activeVisitors": len(d.Registry.Active())})
	})

	tracking := NewTrackingHandlers(d.Registry)
	visitor := NewVisitorHandlers(d.Registry)
	submissions := NewSubmissionHandlers(d.Registry, d.Webhook)
	auth := NewAuthHandlers(d.Users, d.Tokens, d.SecureCookies)
	dashboard := NewDashboardHandlers(d.Warehouse, d.Registry)

	api := r.Group("/api")
	{
		api.POST("/signup", auth.Signup)
		api.POST("/login", auth.Login)
		api.POST("/logout", auth.Logout)

		site := api.Group("")
		site.Use(middleware.Visitor(d.SecureCookies))
		{
			site.POST("/track", tracking.TrackEvent)
			site.POST("/track/pageload", tracking.PageLoad)
			site.POST("/track/interactions", tracking.Interactions)
			site.POST("/conversions", tracking.Conversion)

			site.GET("/segments", visitor.Segments)
			site.POST("/personalize", visitor.Personalize)
			site.POST("/personalize/convert", visitor.ConvertVariation)
			site.GET("/recommendations", visitor.Recommendations)
			site.GET("/messages/:kind", visitor.Message)
			site.GET("/experiments/:id", visitor.Experiment)
			site.POST("/experiments/:id/convert", visitor.ConvertExperiment)
			site.POST("/experiments/:id/click", visitor.ClickExperiment)
			site.GET("/retargeting/popup", visitor.Popup)
			site.POST("/retargeting/:id/dismiss", visitor.DismissPopup)
			site.POST("/retargeting/:id/convert", visitor.ConvertPopup)
			site.GET("/audiences", visitor.Audiences)
			site.POST("/crossdevice/fingerprint", visitor.Fingerprint)
			site.GET("/insights", visitor.Insights)

			site.POST("/quiz", submissions.Quiz)
			site.POST("/feedback", submissions.Feedback)
		}

		protected := api.Group("")
		protected.Use(middleware.AuthRequired(d.Tokens, d.APIKey))
		{
			protected.GET("/dashboard", dashboard.Dashboard)
			protected.POST("/export", dashboard.Export)
			protected.GET("/funnels/:id", dashboard.Funnel)
			protected.GET("/experiments/:id/results", dashboard.ExperimentResults)

			stats := protected.Group("/stats")
			{
				stats.GET("/event-counts", dashboard.GetEventCountsOverTime)
				stats.GET("/average-event-duration", dashboard.GetAverageEventDuration)
				stats.GET("/average-custom-param", dashboard.GetAverageCustomEventParameter)
				stats.GET("/unique-users", dashboard.GetUniqueUsersOverTime)
				stats.GET("/top-paths", dashboard.GetTopNPagePaths)
			}
		}
	}
	return r
}
