package retargeting

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"edumarket/api/models"
	"edumarket/api/rules"
	"edumarket/api/store"
)

// DefaultAudienceScore is used when an audience has no MinScore.
const DefaultAudienceScore = 0.5

type audience struct {
	models.Audience
	criteria []rules.Criterion
}

// AudienceEngine keeps visitors' ad-audience memberships for pixel sync.
type AudienceEngine struct {
	mu        sync.RWMutex
	audiences []*audience
}

func NewAudienceEngine(as []models.Audience) (*AudienceEngine, error) {
	e := &AudienceEngine{}
	for _, a := range as {
		criteria, err := rules.CompileAll(a.Conditions)
		if err != nil {
			return nil, fmt.Errorf("audience %s: %w", a.ID, err)
		}
		e.audiences = append(e.audiences, &audience{Audience: a, criteria: criteria})
	}
	return e, nil
}

// Sync drops expired memberships, joins or refreshes every audience the
// visitor qualifies for and returns the active memberships.
func (e *AudienceEngine) Sync(ctx context.Context, m *store.Manager, f rules.Facts) ([]models.AudienceMembership, error) {
	now := m.Now()
	current, err := e.Memberships(ctx, m)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.AudienceMembership, len(current))
	for _, ms := range current {
		byID[ms.AudienceID] = ms
	}

	var joined []models.RetargetingRecord
	for _, a := range e.audiences {
		threshold := a.MinScore
		if threshold <= 0 {
			threshold = DefaultAudienceScore
		}
		score := rules.Score(a.criteria, f).Score
		if score < threshold {
			continue
		}
		ms, existed := byID[a.ID]
		if !existed {
			ms = models.AudienceMembership{AudienceID: a.ID, JoinedAt: now, PixelEvents: a.PixelEvents}
			e.mu.Lock()
			a.Performance.Impressions++
			e.mu.Unlock()
			joined = append(joined, models.RetargetingRecord{
				CampaignID: a.ID, Action: models.ActionAudience, Timestamp: now, ExpiresAt: now.Add(a.Membership),
			})
		}
		ms.Score = score
		ms.ExpiresAt = now.Add(a.Membership)
		byID[a.ID] = ms
	}

	out := make([]models.AudienceMembership, 0, len(byID))
	for _, ms := range byID {
		out = append(out, ms)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AudienceID < out[j].AudienceID })
	if err := m.SetObject(ctx, store.KeyAudiences, out); err != nil {
		return nil, fmt.Errorf("failed to save audiences: %w", err)
	}
	if len(joined) > 0 {
		if err := store.RetargetingCollection.Append(ctx, m, joined...); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Memberships returns the visitor's unexpired memberships.
func (e *AudienceEngine) Memberships(ctx context.Context, m *store.Manager) ([]models.AudienceMembership, error) {
	var stored []models.AudienceMembership
	if _, err := m.GetObject(ctx, store.KeyAudiences, &stored); err != nil {
		return nil, err
	}
	now := m.Now()
	active := stored[:0]
	for _, ms := range stored {
		if ms.ExpiresAt.After(now) {
			active = append(active, ms)
		}
	}
	return active, nil
}

func (e *AudienceEngine) Audiences() []models.Audience {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Audience, 0, len(e.audiences))
	for _, a := range e.audiences {
		out = append(out, a.Audience)
	}
	return out
}
