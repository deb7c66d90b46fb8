package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"edumarket/api/middleware"
	"edumarket/api/models"
	"edumarket/api/orchestrator"
	"edumarket/api/tracking"
)

// TrackingHandlers feed the visitor's pipeline with what the site observed.
type TrackingHandlers struct {
	reg *orchestrator.Registry
}

func NewTrackingHandlers(reg *orchestrator.Registry) *TrackingHandlers {
	return &TrackingHandlers{reg: reg}
}

// TrackEvent queues a batch of raw analytics events for the warehouse.
// Custom event types count towards custom_event goals.
func (h *TrackingHandlers) TrackEvent(c *gin.Context) {
	var incoming []models.AnalyticsEvent
	if err := c.ShouldBindJSON(&incoming); err != nil {
		badRequest(c, err)
		return
	}
	if len(incoming) == 0 {
		c.Status(http.StatusOK)
		return
	}

	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		for _, ev := range incoming {
			ev.EventID, ev.Channel = "", ""
			ev.IPAddress = c.ClientIP()
			if ev.UserAgent == "" {
				ev.UserAgent = c.Request.UserAgent()
			}
			if err := a.QueueEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if ok {
		c.JSON(http.StatusOK, gin.H{"queued": len(incoming)})
	}
}

func (h *TrackingHandlers) PageLoad(c *gin.Context) {
	var req models.PageLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var visit *tracking.Visit
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		visit, err = a.TrackPageLoad(ctx, tracking.PageLoad{
			URL:       req.URL,
			Referrer:  req.Referrer,
			UserAgent: c.Request.UserAgent(),
			ClientIP:  c.ClientIP(),
		})
		return err
	})
	if ok {
		c.JSON(http.StatusOK, gin.H{"visitorId": middleware.VisitorID(c), "visit": visit})
	}
}

func (h *TrackingHandlers) Interactions(c *gin.Context) {
	var req models.InteractionBatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var steps []models.JourneyStep
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		steps, err = a.TrackInteractions(ctx, req.Interactions)
		return err
	})
	if ok {
		c.JSON(http.StatusOK, gin.H{"accepted": len(steps), "skipped": len(req.Interactions) - len(steps), "steps": steps})
	}
}

// Conversion records an explicit conversion for a goal.
func (h *TrackingHandlers) Conversion(c *gin.Context) {
	var req models.ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var conv *models.ConversionEvent
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		conv, err = a.TrackConversion(ctx, req.GoalID, req.Value)
		return err
	})
	if !ok {
		return
	}
	if conv == nil {
		c.JSON(http.StatusOK, gin.H{"converted": false})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"converted": true, "conversion": conv})
}
