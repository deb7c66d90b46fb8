// Package journey records what a visitor does on each page and derives the
// behavior pattern the scoring engines read.
package journey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"edumarket/api/models"
	"edumarket/api/store"
)

// Interaction types posted by the site script.
const (
	Scroll           = "scroll"
	Click            = "click"
	FocusIn          = "focusin"
	Submit           = "submit"
	VideoPlay        = "video_play"
	VideoEnded       = "video_ended"
	VisibilityChange = "visibilitychange"
	BeforeUnload     = "beforeunload"
	MouseLeave       = "mouseleave"
	Navigation       = "navigation"
	Download         = "download"
)

var knownTypes = map[string]bool{
	Scroll: true, Click: true, FocusIn: true, Submit: true, VideoPlay: true, VideoEnded: true,
	VisibilityChange: true, BeforeUnload: true, MouseLeave: true, Navigation: true, Download: true,
}

// bounceWindow is the dwell time under which a page without interaction
// counts as a bounce.
const bounceWindow = 10 * time.Second

type Tracker struct {
	store *store.Manager
}

func NewTracker(m *store.Manager) *Tracker {
	return &Tracker{store: m}
}

// StartPage finalizes the live page record, if any, and opens a new one.
func (t *Tracker) StartPage(ctx context.Context, sessionID, page string) (*models.PageMetrics, error) {
	now := t.store.Now()
	if _, err := t.finalize(ctx, now); err != nil {
		return nil, err
	}
	pm := &models.PageMetrics{SessionID: sessionID, Page: page, EntryTime: now}
	if err := t.store.SetObject(ctx, store.KeyCurrentPage, pm); err != nil {
		return nil, fmt.Errorf("failed to open page metrics: %w", err)
	}
	return pm, nil
}

// CurrentPage returns the live page record, nil when no page is open.
func (t *Tracker) CurrentPage(ctx context.Context) (*models.PageMetrics, error) {
	var pm models.PageMetrics
	found, err := t.store.GetObject(ctx, store.KeyCurrentPage, &pm)
	if err != nil || !found || pm.Page == "" {
		return nil, err
	}
	return &pm, nil
}

// Observe appends a journey step for in and folds it into the live page
// metrics. Navigation and beforeunload close the page.
func (t *Tracker) Observe(ctx context.Context, sessionID string, in models.Interaction) (*models.JourneyStep, error) {
	if !knownTypes[in.Type] {
		return nil, fmt.Errorf("unknown interaction type %q", in.Type)
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = t.store.Now()
	}

	pm, err := t.CurrentPage(ctx)
	if err != nil {
		return nil, err
	}
	if (pm == nil || pm.SessionID != sessionID) && in.Page == "" {
		last, err := t.lastClosed(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			return t.observeClosed(ctx, last, in, ts)
		}
	}
	if pm == nil || pm.SessionID != sessionID || (in.Page != "" && in.Page != pm.Page) {
		page := in.Page
		if page == "" {
			page = "/"
		}
		if pm, err = t.StartPage(ctx, sessionID, page); err != nil {
			return nil, err
		}
	}

	step := models.JourneyStep{
		SessionID:   sessionID,
		Timestamp:   ts,
		Page:        pm.Page,
		Action:      actionLabel(in),
		Element:     in.Element,
		Value:       in.Value,
		DurationMs:  max(ts.Sub(pm.EntryTime).Milliseconds(), 0),
		ScrollDepth: pm.ScrollDepth,
		Metadata:    metadata(in),
	}

	switch in.Type {
	case Scroll:
		if in.ScrollDepth > pm.ScrollDepth {
			pm.ScrollDepth = min(in.ScrollDepth, 100)
		}
		step.ScrollDepth = pm.ScrollDepth
	case Click:
		pm.Clicks++
	case FocusIn:
		pm.FormInteractions++
	case Submit:
		pm.FormSubmits++
	case VideoPlay:
		pm.VideoPlays++
	case VideoEnded:
		pm.VideoCompletions++
	case Download:
		pm.Downloads++
	case MouseLeave:
		step.ExitIntent = in.Y <= 0
	}

	if err := store.StepCollection.Append(ctx, t.store, step); err != nil {
		return nil, fmt.Errorf("failed to save journey step: %w", err)
	}

	if err := t.store.SetObject(ctx, store.KeyCurrentPage, pm); err != nil {
		return nil, fmt.Errorf("failed to update page metrics: %w", err)
	}
	if in.Type == Navigation || in.Type == BeforeUnload {
		if _, err := t.finalize(ctx, ts); err != nil {
			return nil, err
		}
	}
	return &step, nil
}

// observeClosed records a step that arrives after its page was closed. The
// step is attributed to that page and no new page record is opened.
func (t *Tracker) observeClosed(ctx context.Context, last *models.PageMetrics, in models.Interaction, ts time.Time) (*models.JourneyStep, error) {
	step := models.JourneyStep{
		SessionID:   last.SessionID,
		Timestamp:   ts,
		Page:        last.Page,
		Action:      actionLabel(in),
		Element:     in.Element,
		Value:       in.Value,
		DurationMs:  max(ts.Sub(last.EntryTime).Milliseconds(), 0),
		ScrollDepth: last.ScrollDepth,
		ExitIntent:  in.Type == MouseLeave && in.Y <= 0,
		Metadata:    metadata(in),
	}
	if err := store.StepCollection.Append(ctx, t.store, step); err != nil {
		return nil, fmt.Errorf("failed to save journey step: %w", err)
	}
	return &step, nil
}

func (t *Tracker) lastClosed(ctx context.Context, sessionID string) (*models.PageMetrics, error) {
	all, err := store.PageCollection.Load(ctx, t.store)
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].SessionID == sessionID {
			return &all[i], nil
		}
	}
	return nil, nil
}

// Steps returns the session's journey steps, oldest first.
func (t *Tracker) Steps(ctx context.Context, sessionID string) ([]models.JourneyStep, error) {
	all, err := store.StepCollection.Load(ctx, t.store)
	if err != nil {
		return nil, err
	}
	var out []models.JourneyStep
	for _, s := range all {
		if s.SessionID == sessionID {
			out = append(out, s)
		}
	}
	return out, nil
}

// Pages returns the session's finalized page records followed by the live
// one, whose duration runs up to now.
func (t *Tracker) Pages(ctx context.Context, sessionID string) ([]models.PageMetrics, error) {
	all, err := store.PageCollection.Load(ctx, t.store)
	if err != nil {
		return nil, err
	}
	var out []models.PageMetrics
	for _, p := range all {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	cur, err := t.CurrentPage(ctx)
	if err != nil {
		return nil, err
	}
	if cur != nil && cur.SessionID == sessionID {
		cur.DurationMs = max(t.store.Now().Sub(cur.EntryTime).Milliseconds(), 0)
		out = append(out, *cur)
	}
	return out, nil
}

func (t *Tracker) finalize(ctx context.Context, at time.Time) (*models.PageMetrics, error) {
	pm, err := t.CurrentPage(ctx)
	if err != nil || pm == nil {
		return nil, err
	}
	pm.ExitTime = at
	pm.DurationMs = max(at.Sub(pm.EntryTime).Milliseconds(), 0)
	pm.Bounced = pm.Clicks == 0 && pm.FormInteractions == 0 && pm.VideoPlays == 0 &&
		pm.DurationMs < bounceWindow.Milliseconds()
	if err := store.PageCollection.Append(ctx, t.store, *pm); err != nil {
		return nil, fmt.Errorf("failed to save page metrics: %w", err)
	}
	if err := t.store.Remove(ctx, store.KeyCurrentPage); err != nil {
		return nil, err
	}
	return pm, nil
}

func actionLabel(in models.Interaction) string {
	if in.Type == Click && in.ElementType != "" {
		return in.Type + "_" + strings.ToLower(in.ElementType) + "_" + in.Type
	}
	return in.Type
}

func metadata(in models.Interaction) map[string]any {
	md := make(map[string]any, len(in.Metadata)+3)
	for k, v := range in.Metadata {
		md[k] = v
	}
	if in.Type == Click || in.Type == MouseLeave {
		md["x"], md["y"] = in.X, in.Y
	}
	if in.ElementType != "" {
		md["elementType"] = in.ElementType
	}
	if len(md) == 0 {
		return nil
	}
	return md
}
