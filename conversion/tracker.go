package conversion

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"edumarket/api/events"
	"edumarket/api/models"
	"edumarket/api/store"
)

var ErrUnknownGoal = errors.New("unknown goal")

// firedGoals remembers which goals already fired in the current session.
type firedGoals struct {
	SessionID string          `json:"sessionId"`
	Goals     map[string]bool `json:"goals"`
}

// Tracker fires goals for one visitor.
type Tracker struct {
	store      *store.Manager
	goals      []models.ConversionGoal
	attributor Attributor
	pub        events.Publisher
}

func NewTracker(m *store.Manager, goals []models.ConversionGoal, a Attributor, pub events.Publisher) *Tracker {
	if pub == nil {
		pub = events.Discard
	}
	return &Tracker{store: m, goals: goals, attributor: a, pub: pub}
}

func (t *Tracker) Goal(id string) (models.ConversionGoal, bool) {
	for _, g := range t.goals {
		if g.ID == id {
			return g, true
		}
	}
	return models.ConversionGoal{}, false
}

// Check evaluates every goal against ev and fires those that reach
// GoalThreshold and have not fired in this session yet.
func (t *Tracker) Check(ctx context.Context, sess *models.Session, ev Evidence, tps []models.Touchpoint) ([]models.ConversionEvent, error) {
	if sess == nil {
		return nil, nil
	}
	fired, err := t.loadFired(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	var out []models.ConversionEvent
	for _, g := range t.goals {
		if fired.Goals[g.ID] {
			continue
		}
		if GoalScore(g.Conditions, ev) < GoalThreshold {
			continue
		}
		conv, err := t.fire(ctx, sess, g, g.Value, tps)
		if err != nil {
			return out, err
		}
		fired.Goals[g.ID] = true
		out = append(out, *conv)
	}
	if len(out) > 0 {
		if err := t.store.SetObject(ctx, store.KeyFiredGoals, fired); err != nil {
			return out, err
		}
	}
	return out, nil
}

// TrackCustom fires goalID directly. value overrides the goal's default. An
// explicit call always fires, even when the goal already fired this session.
func (t *Tracker) TrackCustom(ctx context.Context, sess *models.Session, goalID string, value *float64, tps []models.Touchpoint) (*models.ConversionEvent, error) {
	if sess == nil {
		return nil, fmt.Errorf("no active session")
	}
	g, ok := t.Goal(goalID)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownGoal, goalID)
	}
	v := g.Value
	if value != nil {
		v = *value
	}
	conv, err := t.fire(ctx, sess, g, v, tps)
	if err != nil {
		return nil, err
	}

	fired, err := t.loadFired(ctx, sess.ID)
	if err != nil {
		return conv, err
	}
	fired.Goals[g.ID] = true
	return conv, t.store.SetObject(ctx, store.KeyFiredGoals, fired)
}

// Conversions returns stored conversions, newest first. An empty sessionID
// returns every session's.
func (t *Tracker) Conversions(ctx context.Context, sessionID string) ([]models.ConversionEvent, error) {
	all, err := store.ConversionCollection.Load(ctx, t.store)
	if err != nil {
		return nil, err
	}
	var out []models.ConversionEvent
	for _, c := range all {
		if sessionID == "" || c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (t *Tracker) fire(ctx context.Context, sess *models.Session, g models.ConversionGoal, value float64, tps []models.Touchpoint) (*models.ConversionEvent, error) {
	now := t.store.Now()
	a := t.attributor
	if g.AttributionModel != "" {
		if m, err := ParseModel(g.AttributionModel); err == nil {
			a.Model = m
		}
	}
	if a.Model == "" {
		a.Model = PositionBased
	}

	ids := make([]string, 0, len(tps))
	for _, tp := range tps {
		ids = append(ids, tp.ID)
	}
	conv := models.ConversionEvent{
		ID:               uuid.New().String(),
		SessionID:        sess.ID,
		GoalID:           g.ID,
		GoalType:         g.Type,
		Value:            value,
		Timestamp:        now,
		TimeToConvertMs:  max(now.Sub(sess.FirstVisit).Milliseconds(), 0),
		TouchpointCount:  len(tps),
		TouchpointIDs:    ids,
		AttributionModel: string(a.Model),
		Attribution:      a.Attribute(tps, value, now),
	}
	if err := store.ConversionCollection.Append(ctx, t.store, conv); err != nil {
		return nil, fmt.Errorf("failed to save conversion: %w", err)
	}

	log.Info().Str("goal", g.ID).Str("session_id", sess.ID).Float64("value", value).Msg("Conversion recorded")
	t.pub.Publish(ctx, events.Event{Name: events.Conversion, SessionID: sess.ID, Timestamp: now, Data: conv})
	return &conv, nil
}

func (t *Tracker) loadFired(ctx context.Context, sessionID string) (*firedGoals, error) {
	var fired firedGoals
	if _, err := t.store.GetObject(ctx, store.KeyFiredGoals, &fired); err != nil {
		return nil, err
	}
	if fired.SessionID != sessionID || fired.Goals == nil {
		fired = firedGoals{SessionID: sessionID, Goals: make(map[string]bool)}
	}
	return &fired, nil
}
