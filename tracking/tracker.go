package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"edumarket/api/models"
	"edumarket/api/store"
)

// DefaultAttributionWindow is how long a session keeps crediting its original
// campaign.
const DefaultAttributionWindow = 30 * 24 * time.Hour

// ReturnGap is how long a load without a referrer must follow the previous
// touchpoint to count as a fresh direct visit rather than a navigation.
const ReturnGap = 30 * time.Minute

// PageLoad is what the site reports when a page is opened.
type PageLoad struct {
	URL       string
	Referrer  string
	UserAgent string
	ClientIP  string
}

// Visit is the outcome of tracking one page load.
type Visit struct {
	Session    models.Session       `json:"session"`
	Traffic    models.TrafficSource `json:"traffic"`
	Touchpoint *models.Touchpoint   `json:"touchpoint,omitempty"`
	NewSession bool                 `json:"newSession"`
	Page       string               `json:"page"`
}

type Tracker struct {
	store    *store.Manager
	window   time.Duration
	siteHost string
	locator  Locator
}

type Option func(*Tracker)

func WithWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

func WithSiteHost(host string) Option {
	return func(t *Tracker) { t.siteHost = host }
}

func WithLocator(loc Locator) Option {
	return func(t *Tracker) { t.locator = loc }
}

func NewTracker(m *store.Manager, opts ...Option) *Tracker {
	t := &Tracker{store: m, window: DefaultAttributionWindow}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track records a page load. A stored session still inside the attribution
// window is updated in place; otherwise a new session replaces it.
func (t *Tracker) Track(ctx context.Context, load PageLoad) (*Visit, error) {
	now := t.store.Now()
	params, page, err := ParseURL(load.URL, now)
	if err != nil {
		return nil, err
	}

	var sess models.Session
	found, err := t.store.GetObject(ctx, store.KeyCurrentSession, &sess)
	if err != nil {
		return nil, err
	}

	visit := &Visit{Page: page}
	if found && sess.ID != "" && now.Sub(sess.FirstVisit) <= t.window {
		sess.VisitCount++
		sess.LastVisit = now
		if !params.Empty() {
			sess.LatestParams = params
			sess.ParamHistory = append(sess.ParamHistory, params)
		}
		if sess.Device.Type == "" {
			sess.Device = DetectDevice(load.UserAgent, load.ClientIP, t.locator)
		}
	} else {
		sess = models.Session{
			ID:             ulid.Make().String(),
			FirstVisit:     now,
			LastVisit:      now,
			VisitCount:     1,
			OriginalParams: params,
			LatestParams:   params,
			LandingPage:    page,
			Referrer:       load.Referrer,
			Device:         DetectDevice(load.UserAgent, load.ClientIP, t.locator),
		}
		if !params.Empty() {
			sess.ParamHistory = []models.UTMParams{params}
		}
		visit.NewSession = true
	}
	visit.Session = sess
	visit.Traffic = Classify(params, load.Referrer, t.siteHost)

	if err := t.store.SetObject(ctx, store.KeyCurrentSession, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if err := t.upsertSession(ctx, sess); err != nil {
		// the current-session key is authoritative; the history is best effort
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("Failed to update session history")
	}

	existing, err := t.Touchpoints(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if !t.isExposure(visit.NewSession, params, load.Referrer, existing, now) {
		return visit, nil
	}
	tp, err := t.recordTouchpoint(ctx, sess, existing, visit.Traffic, page, now)
	if err != nil {
		return nil, err
	}
	visit.Touchpoint = &tp
	return visit, nil
}

// Current returns the active session, if any.
func (t *Tracker) Current(ctx context.Context) (*models.Session, error) {
	var sess models.Session
	found, err := t.store.GetObject(ctx, store.KeyCurrentSession, &sess)
	if err != nil || !found || sess.ID == "" {
		return nil, err
	}
	return &sess, nil
}

// SessionTraffic classifies a session by its latest campaign parameters and
// original referrer.
func (t *Tracker) SessionTraffic(sess *models.Session) models.TrafficSource {
	if sess == nil {
		return Classify(models.UTMParams{}, "", t.siteHost)
	}
	return Classify(sess.LatestParams, sess.Referrer, t.siteHost)
}

// Touchpoints returns the session's touchpoints in order.
func (t *Tracker) Touchpoints(ctx context.Context, sessionID string) ([]models.Touchpoint, error) {
	all, err := store.TouchpointCollection.Load(ctx, t.store)
	if err != nil {
		return nil, err
	}
	var out []models.Touchpoint
	for _, tp := range all {
		if tp.SessionID == sessionID {
			out = append(out, tp)
		}
	}
	return out, nil
}

func (t *Tracker) upsertSession(ctx context.Context, sess models.Session) error {
	sessions, err := store.SessionCollection.Load(ctx, t.store)
	if err != nil {
		return err
	}
	replaced := false
	for i := range sessions {
		if sessions[i].ID == sess.ID {
			sessions[i] = sess
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, sess)
	}
	_, err = store.SessionCollection.Save(ctx, t.store, sessions)
	return err
}

// isExposure reports whether a load brought the visitor from a traffic source.
// Navigations inside the site are not touchpoints.
func (t *Tracker) isExposure(newSession bool, params models.UTMParams, referrer string, existing []models.Touchpoint, now time.Time) bool {
	if newSession || len(existing) == 0 || !params.Empty() {
		return true
	}
	if host := hostOf(referrer); host != "" {
		return !sameSite(host, t.siteHost)
	}
	if referrer != "" {
		return false
	}
	return now.Sub(existing[len(existing)-1].Timestamp) >= ReturnGap
}

func (t *Tracker) recordTouchpoint(ctx context.Context, sess models.Session, existing []models.Touchpoint, src models.TrafficSource, page string, now time.Time) (models.Touchpoint, error) {
	tp := models.Touchpoint{
		ID:        ulid.Make().String(),
		SessionID: sess.ID,
		Timestamp: now,
		Position:  len(existing) + 1,
		Source:    src.Source,
		Medium:    src.Medium,
		Campaign:  src.Campaign,
		Channel:   src.Type,
		Page:      page,
	}
	if n := len(existing); n > 0 {
		tp.SincePreviousMs = now.Sub(existing[n-1].Timestamp).Milliseconds()
	}
	if err := store.TouchpointCollection.Append(ctx, t.store, tp); err != nil {
		return models.Touchpoint{}, fmt.Errorf("failed to save touchpoint: %w", err)
	}
	return tp, nil
}
