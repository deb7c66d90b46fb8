package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"edumarket/api/abtest"
	"edumarket/api/conversion"
	"edumarket/api/kvstore"
	"edumarket/api/middleware"
	"edumarket/api/orchestrator"
	"edumarket/api/personalization"
	"edumarket/api/retargeting"
)

const requestTimeout = 10 * time.Second

// withVisitor runs fn on the requesting visitor's pipeline and writes an
// error response when it fails. It reports whether fn succeeded.
func withVisitor(c *gin.Context, reg *orchestrator.Registry, fn func(ctx context.Context, a *orchestrator.Analytics) error) bool {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	err := reg.Do(ctx, middleware.VisitorID(c), func(a *orchestrator.Analytics) error {
		return fn(ctx, a)
	})
	if err == nil {
		return true
	}
	abortWithError(c, err)
	return false
}

func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNoSession):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "No active session, track a page load first"})
	case errors.Is(err, orchestrator.ErrNoVisitor):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing visitor id"})
	case errors.Is(err, orchestrator.ErrUnknownFunnel), errors.Is(err, conversion.ErrUnknownGoal),
		errors.Is(err, abtest.ErrNotFound), errors.Is(err, retargeting.ErrUnknownCampaign),
		errors.Is(err, personalization.ErrUnknownVariation):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, kvstore.ErrQuotaExceeded):
		log.Warn().Err(err).Str("visitor_id", middleware.VisitorID(c)).Msg("Visitor storage full")
		c.AbortWithStatusJSON(http.StatusInsufficientStorage, gin.H{"error": "Visitor storage quota exceeded"})
	case errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "Request timed out"})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Str("visitor_id", middleware.VisitorID(c)).Msg("Request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
}
