package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"edumarket/api/models"
	"edumarket/api/orchestrator"
)

// VisitorHandlers answer what the site should show the requesting visitor.
type VisitorHandlers struct {
	reg *orchestrator.Registry
}

func NewVisitorHandlers(reg *orchestrator.Registry) *VisitorHandlers {
	return &VisitorHandlers{reg: reg}
}

func (h *VisitorHandlers) Segments(c *gin.Context) {
	var segs models.UserSegments
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		segs, err = a.Segments(ctx)
		return err
	})
	if ok {
		c.JSON(http.StatusOK, segs)
	}
}

func (h *VisitorHandlers) Personalize(c *gin.Context) {
	var req models.PersonalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var content models.PersonalizedContent
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		content, err = a.Personalize(ctx, req.Slot, req.Defaults)
		return err
	})
	if ok {
		c.JSON(http.StatusOK, content)
	}
}

// ConvertVariation credits the content variation the visitor converted on.
func (h *VisitorHandlers) ConvertVariation(c *gin.Context) {
	var req models.VariationConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		return a.RecordVariationConversion(ctx, req.VariationID, req.Value)
	})
	if ok {
		c.Status(http.StatusNoContent)
	}
}

func (h *VisitorHandlers) Recommendations(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "5"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	var recs []models.Recommendation
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		recs, err = a.Recommend(ctx, limit)
		return err
	})
	if ok {
		if recs == nil {
			recs = []models.Recommendation{}
		}
		c.JSON(http.StatusOK, gin.H{"recommendations": recs})
	}
}

func (h *VisitorHandlers) Message(c *gin.Context) {
	kind := c.Param("kind")

	var msg string
	var found bool
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		msg, found, err = a.Message(ctx, kind)
		return err
	})
	if !ok {
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "No message for " + kind})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "message": msg})
}

// Experiment returns the visitor's variant. A visitor outside the
// experiment's targeting gets "enrolled": false.
func (h *VisitorHandlers) Experiment(c *gin.Context) {
	var variant *models.Variant
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		variant, err = a.Experiment(ctx, c.Param("id"))
		return err
	})
	if !ok {
		return
	}
	if variant == nil {
		c.JSON(http.StatusOK, gin.H{"experimentId": c.Param("id"), "enrolled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"experimentId": c.Param("id"), "enrolled": true, "variant": variant})
}

func (h *VisitorHandlers) ConvertExperiment(c *gin.Context) {
	var converted bool
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		converted, err = a.ConvertExperiment(ctx, c.Param("id"))
		return err
	})
	if ok {
		c.JSON(http.StatusOK, gin.H{"experimentId": c.Param("id"), "converted": converted})
	}
}

func (h *VisitorHandlers) ClickExperiment(c *gin.Context) {
	var clicked bool
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		clicked, err = a.ClickExperiment(ctx, c.Param("id"))
		return err
	})
	if ok {
		c.JSON(http.StatusOK, gin.H{"experimentId": c.Param("id"), "clicked": clicked})
	}
}

// Popup evaluates a retargeting trigger: ?trigger=scroll_depth&value=60.
func (h *VisitorHandlers) Popup(c *gin.Context) {
	trigger := models.TriggerType(c.Query("trigger"))
	switch trigger {
	case models.TriggerExitIntent, models.TriggerTimeOnPage, models.TriggerScrollDepth, models.TriggerPageCount:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "trigger must be exit_intent, time_on_page, scroll_depth or page_count"})
		return
	}
	value := 0.0
	if raw := c.Query("value"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "value must be a number"})
			return
		}
		value = v
	}

	var campaign *models.RetargetingCampaign
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		campaign, err = a.Popup(ctx, trigger, value)
		return err
	})
	if !ok {
		return
	}
	if campaign == nil {
		c.JSON(http.StatusOK, gin.H{"show": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"show": true, "campaign": campaign})
}

func (h *VisitorHandlers) DismissPopup(c *gin.Context) {
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		return a.DismissPopup(ctx, c.Param("id"))
	})
	if ok {
		c.Status(http.StatusNoContent)
	}
}

func (h *VisitorHandlers) ConvertPopup(c *gin.Context) {
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		return a.ConvertPopup(ctx, c.Param("id"))
	})
	if ok {
		c.Status(http.StatusNoContent)
	}
}

func (h *VisitorHandlers) Audiences(c *gin.Context) {
	var ms []models.AudienceMembership
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		ms, err = a.SyncAudiences(ctx)
		return err
	})
	if ok {
		if ms == nil {
			ms = []models.AudienceMembership{}
		}
		c.JSON(http.StatusOK, gin.H{"audiences": ms})
	}
}

func (h *VisitorHandlers) Fingerprint(c *gin.Context) {
	var fp models.Fingerprint
	if err := c.ShouldBindJSON(&fp); err != nil {
		badRequest(c, err)
		return
	}

	var link *models.DeviceLink
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		link, err = a.LinkDevice(ctx, fp)
		return err
	})
	if ok {
		c.JSON(http.StatusOK, link)
	}
}

func (h *VisitorHandlers) Insights(c *gin.Context) {
	var in *orchestrator.Insights
	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		var err error
		in, err = a.Insights(ctx)
		return err
	})
	if ok {
		c.JSON(http.StatusOK, in)
	}
}
