package conversion

import (
	"fmt"
	"math"
	"time"

	"edumarket/api/models"
)

type Model string

const (
	FirstTouch    Model = "first_touch"
	LastTouch     Model = "last_touch"
	Linear        Model = "linear"
	TimeDecay     Model = "time_decay"
	PositionBased Model = "position_based"
)

// DefaultHalfLife is the time-decay half-life.
const DefaultHalfLife = 7 * 24 * time.Hour

// PositionWeights is the first/middle/last split of the position-based model.
// Middle is shared evenly by every touchpoint between the first and the last.
type PositionWeights struct {
	First  float64 `json:"first"`
	Middle float64 `json:"middle"`
	Last   float64 `json:"last"`
}

var DefaultPositionWeights = PositionWeights{First: 0.4, Middle: 0.2, Last: 0.4}

// Attributor spreads a conversion value over touchpoints.
type Attributor struct {
	Model    Model
	HalfLife time.Duration
	Position PositionWeights
}

// NewAttributor validates a configured model. Zero weights fall back to
// DefaultPositionWeights; otherwise they must be non-negative and sum to 1.
func NewAttributor(model string, halfLife time.Duration, p PositionWeights) (Attributor, error) {
	m, err := ParseModel(model)
	if err != nil {
		return Attributor{}, err
	}
	if halfLife < 0 {
		return Attributor{}, fmt.Errorf("negative attribution half-life %s", halfLife)
	}
	if p != (PositionWeights{}) {
		if p.First < 0 || p.Middle < 0 || p.Last < 0 || math.Abs(p.First+p.Middle+p.Last-1) > 1e-6 {
			return Attributor{}, fmt.Errorf("position weights %+v must be non-negative and sum to 1", p)
		}
	}
	return Attributor{Model: m, HalfLife: halfLife, Position: p}, nil
}

func ParseModel(s string) (Model, error) {
	switch m := Model(s); m {
	case FirstTouch, LastTouch, Linear, TimeDecay, PositionBased:
		return m, nil
	case "":
		return PositionBased, nil
	default:
		return "", fmt.Errorf("unknown attribution model %q", s)
	}
}

// Attribute returns one credit per touchpoint; the credit values sum to
// value. Without touchpoints the whole value goes to a single direct credit.
func (a Attributor) Attribute(tps []models.Touchpoint, value float64, at time.Time) []models.AttributionCredit {
	if len(tps) == 0 {
		return []models.AttributionCredit{{Source: "direct", Medium: "(none)", Weight: 1, Value: value}}
	}
	weights := a.weights(tps, at)

	credits := make([]models.AttributionCredit, len(tps))
	assigned := 0.0
	for i, tp := range tps {
		credits[i] = models.AttributionCredit{
			TouchpointID: tp.ID,
			Source:       tp.Source,
			Medium:       tp.Medium,
			Campaign:     tp.Campaign,
			Weight:       weights[i],
			Value:        value * weights[i],
		}
		assigned += credits[i].Value
	}
	// rounding goes to the heaviest credit
	heaviest := 0
	for i := range credits {
		if credits[i].Weight > credits[heaviest].Weight {
			heaviest = i
		}
	}
	credits[heaviest].Value += value - assigned
	return credits
}

func (a Attributor) weights(tps []models.Touchpoint, at time.Time) []float64 {
	n := len(tps)
	w := make([]float64, n)
	switch a.Model {
	case FirstTouch:
		w[0] = 1
	case LastTouch:
		w[n-1] = 1
	case Linear:
		for i := range w {
			w[i] = 1 / float64(n)
		}
	case TimeDecay:
		halfLife := a.HalfLife
		if halfLife <= 0 {
			halfLife = DefaultHalfLife
		}
		total := 0.0
		for i, tp := range tps {
			age := max(at.Sub(tp.Timestamp), 0)
			w[i] = math.Pow(2, -float64(age)/float64(halfLife))
			total += w[i]
		}
		for i := range w {
			w[i] /= total
		}
	default:
		p := a.Position
		if p.First+p.Middle+p.Last <= 0 {
			p = DefaultPositionWeights
		}
		switch n {
		case 1:
			w[0] = 1
		case 2:
			ends := p.First + p.Last
			if ends <= 0 {
				w[0], w[1] = 0.5, 0.5
			} else {
				w[0], w[1] = p.First/ends, p.Last/ends
			}
		default:
			total := p.First + p.Middle + p.Last
			w[0], w[n-1] = p.First/total, p.Last/total
			for i := 1; i < n-1; i++ {
				w[i] = p.Middle / total / float64(n-2)
			}
		}
	}
	return w
}
