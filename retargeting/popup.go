// Package retargeting decides which re-engagement popup a visitor sees and
// which ad audiences they belong to.
package retargeting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"edumarket/api/events"
	"edumarket/api/models"
	"edumarket/api/rules"
	"edumarket/api/store"
)

var ErrUnknownCampaign = errors.New("unknown campaign")

// ConditionThreshold is the score a campaign's conditions must reach.
const ConditionThreshold = 0.5

// Signal is what the page reports when a popup might be shown. Value is
// seconds for time_on_page, percent for scroll_depth and pages for
// page_count; exit_intent ignores it.
type Signal struct {
	Trigger models.TriggerType
	Value   float64
	Facts   rules.Facts
}

type campaign struct {
	models.RetargetingCampaign
	criteria []rules.Criterion
}

// PopupEngine holds the popup campaigns shared by all visitors.
type PopupEngine struct {
	mu        sync.RWMutex
	campaigns []*campaign
	pub       events.Publisher
}

func NewPopupEngine(cs []models.RetargetingCampaign, pub events.Publisher) (*PopupEngine, error) {
	if pub == nil {
		pub = events.Discard
	}
	p := &PopupEngine{pub: pub}
	for _, c := range cs {
		criteria, err := rules.CompileAll(c.Conditions)
		if err != nil {
			return nil, fmt.Errorf("campaign %s: %w", c.ID, err)
		}
		p.campaigns = append(p.campaigns, &campaign{RetargetingCampaign: c, criteria: criteria})
	}
	sort.SliceStable(p.campaigns, func(i, j int) bool { return p.campaigns[i].Priority > p.campaigns[j].Priority })
	return p, nil
}

// Evaluate returns the highest-priority campaign the signal triggers, after
// frequency capping, and records the display. It returns nil when nothing
// should be shown.
func (p *PopupEngine) Evaluate(ctx context.Context, m *store.Manager, sig Signal) (*models.RetargetingCampaign, error) {
	records, err := store.RetargetingCollection.Load(ctx, m)
	if err != nil {
		return nil, err
	}
	now := m.Now()

	for _, c := range p.campaigns {
		if c.Trigger != sig.Trigger {
			continue
		}
		if c.Trigger != models.TriggerExitIntent && sig.Value < c.Threshold {
			continue
		}
		if len(c.criteria) > 0 && rules.Score(c.criteria, sig.Facts).Score < ConditionThreshold {
			continue
		}
		if !allowed(c.RetargetingCampaign, records, now) {
			continue
		}

		rec := models.RetargetingRecord{CampaignID: c.ID, Action: models.ActionDisplay, Timestamp: now}
		if sig.Facts.Session != nil {
			rec.SessionID = sig.Facts.Session.ID
		}
		if err := store.RetargetingCollection.Append(ctx, m, rec); err != nil {
			return nil, fmt.Errorf("failed to record display: %w", err)
		}

		p.mu.Lock()
		c.Performance.Impressions++
		shown := c.RetargetingCampaign
		p.mu.Unlock()

		p.pub.Publish(ctx, events.Event{
			Name: events.RetargetingDisplay, SessionID: rec.SessionID, Timestamp: now,
			Data: map[string]any{"campaignId": c.ID, "trigger": string(c.Trigger)},
		})
		return &shown, nil
	}
	return nil, nil
}

// allowed applies the frequency cap, the cooldown and the converted check.
func allowed(c models.RetargetingCampaign, records []models.RetargetingRecord, now time.Time) bool {
	displays := 0
	var last time.Time
	for _, r := range records {
		if r.CampaignID != c.ID {
			continue
		}
		switch r.Action {
		case models.ActionConversion:
			return false
		case models.ActionDisplay:
			displays++
			if r.Timestamp.After(last) {
				last = r.Timestamp
			}
		}
	}
	if c.MaxDisplays > 0 && displays >= c.MaxDisplays {
		return false
	}
	if c.Cooldown > 0 && !last.IsZero() && now.Sub(last) < c.Cooldown {
		return false
	}
	return true
}

// Dismiss records that the visitor closed the popup.
func (p *PopupEngine) Dismiss(ctx context.Context, m *store.Manager, campaignID string) error {
	if _, ok := p.find(campaignID); !ok {
		return fmt.Errorf("%w %q", ErrUnknownCampaign, campaignID)
	}
	return store.RetargetingCollection.Append(ctx, m, models.RetargetingRecord{
		CampaignID: campaignID, Action: models.ActionDismiss, Timestamp: m.Now(),
	})
}

// Click counts a click on the popup's call to action.
func (p *PopupEngine) Click(campaignID string) error {
	c, ok := p.find(campaignID)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownCampaign, campaignID)
	}
	p.mu.Lock()
	c.Performance.Clicks++
	p.mu.Unlock()
	return nil
}

// Convert records a conversion from the popup and stops it showing again.
func (p *PopupEngine) Convert(ctx context.Context, m *store.Manager, campaignID, sessionID string) error {
	c, ok := p.find(campaignID)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownCampaign, campaignID)
	}
	now := m.Now()
	err := store.RetargetingCollection.Append(ctx, m, models.RetargetingRecord{
		CampaignID: campaignID, SessionID: sessionID, Action: models.ActionConversion, Timestamp: now,
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	c.Performance.Conversions++
	p.mu.Unlock()

	p.pub.Publish(ctx, events.Event{
		Name: events.RetargetingConversion, SessionID: sessionID, Timestamp: now,
		Data: map[string]any{"campaignId": campaignID},
	})
	return nil
}

// Campaigns returns a snapshot, highest priority first.
func (p *PopupEngine) Campaigns() []models.RetargetingCampaign {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.RetargetingCampaign, 0, len(p.campaigns))
	for _, c := range p.campaigns {
		out = append(out, c.RetargetingCampaign)
	}
	return out
}

func (p *PopupEngine) find(id string) (*campaign, bool) {
	for _, c := range p.campaigns {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}
