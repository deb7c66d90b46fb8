package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"edumarket/api/conversion"
	"edumarket/api/events"
	"edumarket/api/journey"
	"edumarket/api/models"
	"edumarket/api/personalization"
	"edumarket/api/retargeting"
	"edumarket/api/rules"
	"edumarket/api/segmentation"
	"edumarket/api/store"
	"edumarket/api/tracking"
	"edumarket/api/webhook"
)

// ErrNoSession is returned by operations that need a tracked page load first.
var ErrNoSession = errors.New("no active session")

// Analytics is one visitor's pipeline. It is not safe for concurrent use;
// the Registry serialises access per visitor.
type Analytics struct {
	visitorID   string
	store       *store.Manager
	engines     *Engines
	tracking    *tracking.Tracker
	journey     *journey.Tracker
	conversions *conversion.Tracker
	sink        Sink
	notifier    *webhook.Client
	demo        bool
}

func (a *Analytics) VisitorID() string { return a.visitorID }

func (a *Analytics) Store() *store.Manager { return a.store }

// Session returns the visitor's current session, nil before the first page
// load.
func (a *Analytics) Session(ctx context.Context) (*models.Session, error) {
	return a.tracking.Current(ctx)
}

// Traffic classifies how sess arrived.
func (a *Analytics) Traffic(sess *models.Session) models.TrafficSource {
	return a.tracking.SessionTraffic(sess)
}

func (a *Analytics) ctx(ctx context.Context) context.Context {
	return events.WithVisitor(ctx, a.visitorID)
}

// TrackPageLoad records the visit, opens the page's metrics record and
// queues a page_view event.
func (a *Analytics) TrackPageLoad(ctx context.Context, load tracking.PageLoad) (*tracking.Visit, error) {
	ctx = a.ctx(ctx)
	visit, err := a.tracking.Track(ctx, load)
	if err != nil {
		return nil, fmt.Errorf("failed to track page load: %w", err)
	}
	if _, err := a.journey.StartPage(ctx, visit.Session.ID, visit.Page); err != nil {
		return visit, err
	}

	data, _ := json.Marshal(map[string]any{
		"trafficType": visit.Traffic.Type,
		"source":      visit.Traffic.Source,
		"medium":      visit.Traffic.Medium,
		"campaign":    visit.Traffic.Campaign,
		"newSession":  visit.NewSession,
	})
	err = a.QueueEvent(ctx, models.AnalyticsEvent{
		EventType: "page_view",
		SessionID: visit.Session.ID,
		PagePath:  visit.Page,
		Referrer:  load.Referrer,
		UserAgent: load.UserAgent,
		IPAddress: load.ClientIP,
		Country:   visit.Session.Device.Country,
		Channel:   visit.Traffic.Type,
		EventData: data,
	})
	return visit, err
}

// TrackInteractions feeds a batch of DOM events into the journey. Events of
// an unknown type are logged and skipped.
func (a *Analytics) TrackInteractions(ctx context.Context, batch []models.Interaction) ([]models.JourneyStep, error) {
	ctx = a.ctx(ctx)
	sess, err := a.tracking.Current(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}

	steps := make([]models.JourneyStep, 0, len(batch))
	for _, in := range batch {
		step, err := a.journey.Observe(ctx, sess.ID, in)
		if err != nil {
			log.Warn().Err(err).Str("visitor_id", a.visitorID).Str("type", in.Type).Msg("Skipping interaction")
			continue
		}
		steps = append(steps, *step)

		category, _ := in.Metadata["category"].(string)
		format, _ := in.Metadata["format"].(string)
		if category != "" || format != "" {
			if _, err := personalization.RecordInterest(ctx, a.store, category, format); err != nil {
				return steps, err
			}
		}

		var data json.RawMessage
		if len(step.Metadata) > 0 {
			data, _ = json.Marshal(step.Metadata)
		}
		if err := a.QueueEvent(ctx, models.AnalyticsEvent{
			EventType:  step.Action,
			SessionID:  sess.ID,
			Timestamp:  step.Timestamp,
			PagePath:   step.Page,
			DurationMs: step.DurationMs,
			EventData:  data,
		}); err != nil {
			return steps, err
		}
	}
	return steps, nil
}

// QueueEvent stamps ev and adds it to the visitor's outgoing queue. Custom
// events also count as evidence for custom_event goal conditions.
func (a *Analytics) QueueEvent(ctx context.Context, ev models.AnalyticsEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.store.Now()
	}
	ev.VisitorID = a.visitorID
	if ev.SessionID == "" || ev.Channel == "" {
		if sess, err := a.tracking.Current(ctx); err == nil && sess != nil {
			if ev.SessionID == "" {
				ev.SessionID = sess.ID
			}
			if ev.Channel == "" {
				ev.Channel = a.tracking.SessionTraffic(sess).Type
			}
		}
	}

	queue, err := a.queue(ctx)
	if err != nil {
		return err
	}
	queue = append(queue, ev)
	if limit := a.store.Policy(store.Events).MaxItems; limit > 0 && len(queue) > limit {
		queue = queue[len(queue)-limit:]
	}
	return a.store.SetObject(ctx, store.KeyEventQueue, queue)
}

func (a *Analytics) queue(ctx context.Context) ([]models.AnalyticsEvent, error) {
	var queue []models.AnalyticsEvent
	if _, err := a.store.GetObject(ctx, store.KeyEventQueue, &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

// Flush sends the queued events to the sink and moves them into the local
// event log. When the sink fails the queue is kept for the next flush.
func (a *Analytics) Flush(ctx context.Context) (int, error) {
	queue, err := a.queue(ctx)
	if err != nil || len(queue) == 0 {
		return 0, err
	}
	if a.sink != nil {
		if err := a.sink.InsertAnalyticsEvents(ctx, queue); err != nil {
			return 0, fmt.Errorf("failed to flush %d events: %w", len(queue), err)
		}
	}
	if err := store.EventCollection.Append(ctx, a.store, queue...); err != nil {
		return 0, err
	}
	if err := a.store.Remove(ctx, store.KeyEventQueue); err != nil {
		return 0, err
	}
	log.Debug().Str("visitor_id", a.visitorID).Int("events", len(queue)).Msg("Flushed events")
	return len(queue), nil
}

// Facts gathers everything rules may look at, segments included.
func (a *Analytics) Facts(ctx context.Context) (rules.Facts, error) {
	f := rules.Facts{Now: a.store.Now()}
	sess, err := a.tracking.Current(ctx)
	if err != nil {
		return f, err
	}
	f.Session = sess
	f.Traffic = a.tracking.SessionTraffic(sess)
	if sess != nil {
		b, err := a.behavior(ctx, sess.ID, f.Traffic.Type)
		if err != nil {
			return f, err
		}
		f.Behavior = &b
	}
	if f.Conversions, err = a.conversions.Conversions(ctx, ""); err != nil {
		return f, err
	}
	if f.Preferences, err = personalization.LoadPreferences(ctx, a.store); err != nil {
		return f, err
	}
	if pm, err := a.journey.CurrentPage(ctx); err == nil && pm != nil {
		f.Page = pm.Page
	}
	f.Segments = a.engines.Segments.Evaluate(f)
	return f, nil
}

func (a *Analytics) behavior(ctx context.Context, sessionID string, traffic models.TrafficType) (models.BehaviorPattern, error) {
	steps, err := a.journey.Steps(ctx, sessionID)
	if err != nil {
		return models.BehaviorPattern{}, err
	}
	pages, err := a.journey.Pages(ctx, sessionID)
	if err != nil {
		return models.BehaviorPattern{}, err
	}
	b := journey.Summarize(sessionID, steps, pages)
	b.ComputedAt = a.store.Now()
	journey.Score(&b, traffic)
	return b, nil
}

func (a *Analytics) evidence(ctx context.Context, sessionID string) (conversion.Evidence, error) {
	var ev conversion.Evidence
	var err error
	if ev.Steps, err = a.journey.Steps(ctx, sessionID); err != nil {
		return ev, err
	}
	if ev.Pages, err = a.journey.Pages(ctx, sessionID); err != nil {
		return ev, err
	}
	logged, err := store.EventCollection.Load(ctx, a.store)
	if err != nil {
		return ev, err
	}
	queued, err := a.queue(ctx)
	if err != nil {
		return ev, err
	}
	for _, e := range append(logged, queued...) {
		if e.SessionID == sessionID {
			ev.Events = append(ev.Events, e)
		}
	}
	return ev, nil
}

// CheckConversions fires the goals the current session has reached.
func (a *Analytics) CheckConversions(ctx context.Context) ([]models.ConversionEvent, error) {
	ctx = a.ctx(ctx)
	sess, err := a.tracking.Current(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	ev, err := a.evidence(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	tps, err := a.tracking.Touchpoints(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	fired, err := a.conversions.Check(ctx, sess, ev, tps)
	a.converted(ctx, fired...)
	return fired, err
}

// TrackConversion fires goalID explicitly; value overrides the goal's value.
func (a *Analytics) TrackConversion(ctx context.Context, goalID string, value *float64) (*models.ConversionEvent, error) {
	ctx = a.ctx(ctx)
	sess, err := a.tracking.Current(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}
	tps, err := a.tracking.Touchpoints(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	conv, err := a.conversions.TrackCustom(ctx, sess, goalID, value, tps)
	if conv != nil {
		a.converted(ctx, *conv)
	}
	return conv, err
}

// converted mirrors fresh conversions to the warehouse and the webhook. Both
// are best effort.
func (a *Analytics) converted(ctx context.Context, convs ...models.ConversionEvent) {
	if len(convs) == 0 || (a.sink == nil && a.notifier == nil) {
		return
	}
	var src models.TrafficSource
	if sess, _ := a.tracking.Current(ctx); sess != nil {
		src = a.tracking.SessionTraffic(sess)
	}
	segs, _ := segmentation.Cached(ctx, a.store)

	rows := make([]models.ConversionRow, len(convs))
	for i, c := range convs {
		rows[i] = models.ConversionRow{
			ConversionEvent: c,
			VisitorID:       a.visitorID,
			Segment:         segs.Primary,
			Source:          src.Source,
			Medium:          src.Medium,
			Campaign:        src.Campaign,
		}
	}
	if a.sink != nil {
		if err := a.sink.InsertConversions(ctx, rows); err != nil {
			log.Error().Err(err).Str("visitor_id", a.visitorID).Msg("Failed to store conversions")
		}
	}
	if a.notifier == nil {
		return
	}
	for _, r := range rows {
		a.notifier.SendAsync(context.WithoutCancel(ctx), "conversion", webhook.Conversion{
			VisitorID: r.VisitorID,
			SessionID: r.SessionID,
			GoalID:    r.GoalID,
			Value:     r.Value,
			Source:    r.Source,
			Medium:    r.Medium,
			Campaign:  r.Campaign,
			Timestamp: r.Timestamp,
		})
	}
}

func (a *Analytics) Conversions(ctx context.Context) ([]models.ConversionEvent, error) {
	return a.conversions.Conversions(ctx, "")
}

// Segments recomputes the visitor's segments and caches them.
func (a *Analytics) Segments(ctx context.Context) (models.UserSegments, error) {
	f, err := a.Facts(ctx)
	if err != nil {
		return models.UserSegments{}, err
	}
	return a.engines.Segments.Assign(ctx, a.store, f)
}

func (a *Analytics) Personalize(ctx context.Context, slot string, defaults map[string]any) (models.PersonalizedContent, error) {
	f, err := a.Facts(ctx)
	if err != nil {
		return models.PersonalizedContent{}, err
	}
	return a.engines.Personalization.Personalize(a.ctx(ctx), a.store, f, slot, defaults)
}

func (a *Analytics) RecordVariationConversion(ctx context.Context, variationID string, value float64) error {
	return a.engines.Personalization.RecordConversion(a.ctx(ctx), variationID, value)
}

func (a *Analytics) Recommend(ctx context.Context, limit int) ([]models.Recommendation, error) {
	f, err := a.Facts(ctx)
	if err != nil {
		return nil, err
	}
	return a.engines.Personalization.Recommend(f, limit), nil
}

// Message renders the dynamic message of kind for the visitor.
func (a *Analytics) Message(ctx context.Context, kind string) (string, bool, error) {
	f, err := a.Facts(ctx)
	if err != nil {
		return "", false, err
	}
	msg, ok := a.engines.Personalization.Message(kind, f)
	return msg, ok, nil
}

// Experiment returns the visitor's variant; nil when the visitor is not
// part of the experiment.
func (a *Analytics) Experiment(ctx context.Context, expID string) (*models.Variant, error) {
	f, err := a.Facts(ctx)
	if err != nil {
		return nil, err
	}
	return a.engines.Experiments.Assign(a.ctx(ctx), a.store, a.visitorID, f, expID)
}

func (a *Analytics) ConvertExperiment(ctx context.Context, expID string) (bool, error) {
	return a.engines.Experiments.Convert(a.ctx(ctx), a.store, expID)
}

func (a *Analytics) ClickExperiment(ctx context.Context, expID string) (bool, error) {
	return a.engines.Experiments.RecordClick(a.ctx(ctx), a.store, expID)
}

// Popup asks the retargeting engine whether trigger should show a popup.
func (a *Analytics) Popup(ctx context.Context, trigger models.TriggerType, value float64) (*models.RetargetingCampaign, error) {
	f, err := a.Facts(ctx)
	if err != nil {
		return nil, err
	}
	return a.engines.Popups.Evaluate(a.ctx(ctx), a.store, retargeting.Signal{Trigger: trigger, Value: value, Facts: f})
}

func (a *Analytics) DismissPopup(ctx context.Context, campaignID string) error {
	return a.engines.Popups.Dismiss(a.ctx(ctx), a.store, campaignID)
}

func (a *Analytics) ConvertPopup(ctx context.Context, campaignID string) error {
	sessionID := ""
	if sess, err := a.tracking.Current(ctx); err == nil && sess != nil {
		sessionID = sess.ID
	}
	return a.engines.Popups.Convert(a.ctx(ctx), a.store, campaignID, sessionID)
}

// SyncAudiences refreshes the visitor's ad audience memberships.
func (a *Analytics) SyncAudiences(ctx context.Context) ([]models.AudienceMembership, error) {
	f, err := a.Facts(ctx)
	if err != nil {
		return nil, err
	}
	return a.engines.Audiences.Sync(ctx, a.store, f)
}

// LinkDevice reports this visitor's fingerprint to the cross-device graph.
func (a *Analytics) LinkDevice(ctx context.Context, fp models.Fingerprint) (*models.DeviceLink, error) {
	link, err := a.engines.Linker.Observe(ctx, a.visitorID, fp)
	if err != nil {
		return nil, err
	}
	if err := a.store.SetObject(ctx, store.KeyFingerprint, link); err != nil {
		return link, err
	}
	return link, nil
}

// FunnelEvidence returns every stored session id and all journey data, for
// funnel analysis across visitors.
func (a *Analytics) FunnelEvidence(ctx context.Context) ([]string, conversion.Evidence, error) {
	var ev conversion.Evidence
	sessions, err := store.SessionCollection.Load(ctx, a.store)
	if err != nil {
		return nil, ev, err
	}
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	if ev.Steps, err = store.StepCollection.Load(ctx, a.store); err != nil {
		return nil, ev, err
	}
	if ev.Pages, err = store.PageCollection.Load(ctx, a.store); err != nil {
		return nil, ev, err
	}
	if pm, err := a.journey.CurrentPage(ctx); err == nil && pm != nil {
		ev.Pages = append(ev.Pages, *pm)
	}
	if ev.Events, err = store.EventCollection.Load(ctx, a.store); err != nil {
		return nil, ev, err
	}
	queued, err := a.queue(ctx)
	if err != nil {
		return nil, ev, err
	}
	ev.Events = append(ev.Events, queued...)
	return ids, ev, nil
}

// Optimize trims the visitor's storage when it has grown too large.
func (a *Analytics) Optimize(ctx context.Context) (bool, error) {
	trimmed, err := a.store.Optimize(ctx)
	if trimmed {
		log.Info().Str("visitor_id", a.visitorID).Msg("Visitor storage optimized")
	}
	return trimmed, err
}
