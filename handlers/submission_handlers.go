package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"edumarket/api/middleware"
	"edumarket/api/models"
	"edumarket/api/orchestrator"
	"edumarket/api/segmentation"
	"edumarket/api/webhook"
)

const (
	quizCompletedEvent     = "quiz_completed"
	feedbackSubmittedEvent = "feedback_submitted"
)

// SubmissionHandlers forward quiz and feedback forms to the webhook and
// record them as custom events in the visitor's journey.
type SubmissionHandlers struct {
	reg  *orchestrator.Registry
	hook *webhook.Client
}

func NewSubmissionHandlers(reg *orchestrator.Registry, hook *webhook.Client) *SubmissionHandlers {
	return &SubmissionHandlers{reg: reg, hook: hook}
}

func (h *SubmissionHandlers) Quiz(c *gin.Context) {
	var sub webhook.QuizSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		badRequest(c, err)
		return
	}

	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		sub.VisitorID = a.VisitorID()
		sub.SubmittedAt = a.Store().Now()
		sess, err := a.Session(ctx)
		if err != nil {
			return err
		}
		if sess != nil {
			src := a.Traffic(sess)
			sub.UTMSource, sub.UTMMedium, sub.UTMCampaign = src.Source, src.Medium, src.Campaign
		}
		if segs, err := segmentation.Cached(ctx, a.Store()); err == nil {
			sub.Segment = segs.Primary
		}

		data, _ := json.Marshal(map[string]any{"career": sub.Career, "score": sub.Score})
		return a.QueueEvent(ctx, models.AnalyticsEvent{EventType: quizCompletedEvent, EventData: data})
	})
	if !ok {
		return
	}
	h.forward(c, "quiz", sub)
}

func (h *SubmissionHandlers) Feedback(c *gin.Context) {
	var fb webhook.Feedback
	if err := c.ShouldBindJSON(&fb); err != nil {
		badRequest(c, err)
		return
	}

	ok := withVisitor(c, h.reg, func(ctx context.Context, a *orchestrator.Analytics) error {
		fb.VisitorID = a.VisitorID()
		fb.SubmittedAt = a.Store().Now()
		data, _ := json.Marshal(map[string]any{"rating": fb.Rating})
		return a.QueueEvent(ctx, models.AnalyticsEvent{EventType: feedbackSubmittedEvent, PagePath: fb.Page, EventData: data})
	})
	if !ok {
		return
	}
	h.forward(c, "feedback", fb)
}

// forward posts payload and reports whether it reached the webhook. The
// submission is already recorded, so a missing or failing webhook is only
// logged and the site still gets 202.
func (h *SubmissionHandlers) forward(c *gin.Context, kind string, payload any) {
	res := h.hook.Send(c.Request.Context(), kind, payload)
	if res.OK() {
		c.JSON(http.StatusOK, gin.H{"message": "Submission received", "forwarded": true})
		return
	}
	if !errors.Is(res.Err, webhook.ErrNotConfigured) {
		log.Error().Err(res.Err).Str("kind", kind).Int("status", res.StatusCode).
			Str("visitor_id", middleware.VisitorID(c)).Msg("Webhook delivery failed")
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Submission recorded", "forwarded": false})
}
