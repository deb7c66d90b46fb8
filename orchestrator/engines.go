// Package orchestrator wires the analytics engines together for each visitor
// and runs the periodic work (conversion checks, event flushes, storage
// optimisation) over the visitors that are currently active.
package orchestrator

import (
	"context"
	"fmt"

	"edumarket/api/abtest"
	"edumarket/api/conversion"
	"edumarket/api/crossdevice"
	"edumarket/api/events"
	"edumarket/api/kvstore"
	"edumarket/api/models"
	"edumarket/api/personalization"
	"edumarket/api/retargeting"
	"edumarket/api/segmentation"
)

// Sink receives what a visitor's pipeline produced, for the dashboard
// warehouse.
type Sink interface {
	InsertAnalyticsEvents(ctx context.Context, events []models.AnalyticsEvent) error
	InsertConversions(ctx context.Context, rows []models.ConversionRow) error
}

// Engines are the definitions and counters shared by every visitor. They are
// built once at startup.
type Engines struct {
	Segments        *segmentation.Engine
	Personalization *personalization.Engine
	Experiments     *abtest.Engine
	Popups          *retargeting.PopupEngine
	Audiences       *retargeting.AudienceEngine
	Linker          *crossdevice.Linker
	Goals           []models.ConversionGoal
	Funnels         []models.Funnel
	Attributor      conversion.Attributor
	Publisher       events.Publisher
}

// NewEngines builds the engines from the built-in tables. deviceGraph holds
// the cross-device links and is shared by all visitors.
func NewEngines(pub events.Publisher, deviceGraph kvstore.Store, attr conversion.Attributor) (*Engines, error) {
	if pub == nil {
		pub = events.Discard
	}
	segs, err := segmentation.NewEngine(segmentation.DefaultSegments())
	if err != nil {
		return nil, fmt.Errorf("failed to build segments: %w", err)
	}
	pers, err := personalization.NewEngine(personalization.DefaultRules(), personalization.DefaultVariations(),
		personalization.WithPublisher(pub))
	if err != nil {
		return nil, fmt.Errorf("failed to build personalization: %w", err)
	}
	exps, err := abtest.NewEngine(abtest.DefaultExperiments())
	if err != nil {
		return nil, fmt.Errorf("failed to build experiments: %w", err)
	}
	popups, err := retargeting.NewPopupEngine(retargeting.DefaultCampaigns(), pub)
	if err != nil {
		return nil, fmt.Errorf("failed to build popup campaigns: %w", err)
	}
	audiences, err := retargeting.NewAudienceEngine(retargeting.DefaultAudiences())
	if err != nil {
		return nil, fmt.Errorf("failed to build audiences: %w", err)
	}

	return &Engines{
		Segments:        segs,
		Personalization: pers,
		Experiments:     exps,
		Popups:          popups,
		Audiences:       audiences,
		Linker:          crossdevice.NewLinker(deviceGraph),
		Goals:           conversion.DefaultGoals(),
		Funnels:         conversion.DefaultFunnels(),
		Attributor:      attr,
		Publisher:       pub,
	}, nil
}

// Funnel returns the funnel registered under id.
func (e *Engines) Funnel(id string) (models.Funnel, bool) {
	for _, f := range e.Funnels {
		if f.ID == id {
			return f, true
		}
	}
	return models.Funnel{}, false
}
