// Package sampler draws one Monte Carlo outcome for one FAIR scenario.
//
// Per iteration the sampler draws a threat event count (TEF), one threat
// capability (TC) per threat event, compares each against the scenario's
// resistance strength, and sums loss magnitude (LM) over the resulting loss
// events:
//
//	threat events  = round(TEF draw), clamped at 0
//	loss event     = a threat event whose TC draw > resistance
//	ALE            = Σ LM over loss events       (LossPerEvent)
//	               = loss events × one LM draw   (LossScaled)
//
// A sampler owns its random stream and is not safe for concurrent use.
package sampler

import (
	"fmt"
	"math"
	"math/rand/v2"

	"fairsim/internal/model"
)

// MaxThreatEvents bounds a single iteration's TEF draw. Larger draws mean
// the frequency distribution is mis-specified and fail the iteration.
const MaxThreatEvents = 1_000_000

// ResistancePolicy combines the difficulties of a scenario's applied
// controls into one resistance strength.
type ResistancePolicy string

const (
	ResistanceMin      ResistancePolicy = "min"      // weakest control dominates
	ResistanceMean     ResistancePolicy = "mean"     // unweighted mean
	ResistanceWeighted ResistancePolicy = "weighted" // mean weighted by ControlRef.Weight
)

// LossPolicy decides how per-event loss magnitude becomes annual loss.
type LossPolicy string

const (
	LossPerEvent LossPolicy = "per_event" // independent LM draw per loss event
	LossScaled   LossPolicy = "scaled"    // one LM draw times the loss event count
)

// Policy is applied uniformly to every scenario of a run.
type Policy struct {
	Resistance ResistancePolicy `json:"resistance" yaml:"resistance"`
	Loss       LossPolicy       `json:"loss" yaml:"loss"`
}

// DefaultPolicy is the weakest-control, per-event-loss policy.
var DefaultPolicy = Policy{Resistance: ResistanceMin, Loss: LossPerEvent}

// Validate rejects unknown policy names.
func (p Policy) Validate() error {
	switch p.Resistance {
	case ResistanceMin, ResistanceMean, ResistanceWeighted:
	default:
		return fmt.Errorf("unknown resistance policy %q", p.Resistance)
	}
	switch p.Loss {
	case LossPerEvent, LossScaled:
	default:
		return fmt.Errorf("unknown loss policy %q", p.Loss)
	}
	return nil
}

// LossSample is one Monte Carlo draw's outcome for one scenario.
type LossSample struct {
	ScenarioID   string  `yaml:"scenario_id" json:"scenario_id"`
	Iteration    int     `yaml:"iteration" json:"iteration"`
	ThreatEvents int     `yaml:"threat_events" json:"threat_events"`
	LossEvents   int     `yaml:"loss_events" json:"loss_events"`
	TCExceeded   bool    `yaml:"tc_exceeded" json:"tc_exceeded"`
	Vuln         float64 `yaml:"vuln" json:"vuln"`
	ALE          float64 `yaml:"ale" json:"ale"`
	SLE          float64 `yaml:"sle" json:"sle"`
}

// Resistance combines control difficulties according to policy. A scenario
// with no applied controls has zero resistance.
func Resistance(policy ResistancePolicy, difficulties, weights []float64) (float64, error) {
	if len(difficulties) == 0 {
		return 0, nil
	}
	switch policy {
	case ResistanceMin:
		r := difficulties[0]
		for _, d := range difficulties[1:] {
			r = math.Min(r, d)
		}
		return r, nil
	case ResistanceMean:
		var sum float64
		for _, d := range difficulties {
			sum += d
		}
		return sum / float64(len(difficulties)), nil
	case ResistanceWeighted:
		if len(weights) != len(difficulties) {
			return 0, fmt.Errorf("got %d weights for %d controls", len(weights), len(difficulties))
		}
		var sum, wsum float64
		for i, d := range difficulties {
			sum += d * weights[i]
			wsum += weights[i]
		}
		if wsum == 0 {
			return 0, fmt.Errorf("control weights sum to zero")
		}
		return sum / wsum, nil
	}
	return 0, fmt.Errorf("unknown resistance policy %q", policy)
}

// Sampler draws LossSamples for a single scenario.
type Sampler struct {
	scenarioID string
	resistance float64
	loss       LossPolicy
	tef        drawer
	tc         drawer
	lm         drawer
}

// New prepares a sampler for scenario s of m. Every draw is taken from src.
func New(m *model.Model, s model.Scenario, p Policy, src rand.Source) (*Sampler, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	diffs, weights, err := m.AppliedControls(s)
	if err != nil {
		return nil, err
	}
	resistance, err := Resistance(p.Resistance, diffs, weights)
	if err != nil {
		return nil, fmt.Errorf("resistance: %w", err)
	}
	if !isFinite(resistance) || resistance < 0 || resistance > 1 {
		return nil, fmt.Errorf("resistance %g outside [0,1]", resistance)
	}
	tef, err := newDrawer(s.TEF, src)
	if err != nil {
		return nil, fmt.Errorf("tef: %w", err)
	}
	tc, err := newDrawer(s.TC, src)
	if err != nil {
		return nil, fmt.Errorf("tc: %w", err)
	}
	lm, err := newDrawer(s.LM, src)
	if err != nil {
		return nil, fmt.Errorf("lm: %w", err)
	}
	return &Sampler{
		scenarioID: s.ID,
		resistance: resistance,
		loss:       p.Loss,
		tef:        tef,
		tc:         tc,
		lm:         lm,
	}, nil
}

// Resistance returns the scenario's combined resistance strength.
func (s *Sampler) Resistance() float64 { return s.resistance }

// Draw produces the outcome of one simulated year. The iteration index is
// recorded on the sample and plays no part in the draws.
func (s *Sampler) Draw(iteration int) (LossSample, error) {
	out := LossSample{ScenarioID: s.scenarioID, Iteration: iteration}

	rawTEF := s.tef.Rand()
	if !isFinite(rawTEF) {
		return out, fmt.Errorf("iteration %d: non-finite tef draw %v", iteration, rawTEF)
	}
	rounded := math.Max(0, math.Round(rawTEF))
	if rounded > MaxThreatEvents {
		return out, fmt.Errorf("iteration %d: tef draw %g exceeds %d", iteration, rounded, MaxThreatEvents)
	}
	tef := int(rounded)
	out.ThreatEvents = tef

	// The first TC draw is taken even in an event-free year so that TC
	// exceedance is observed independently of whether a loss occurred.
	for i := 0; i < max(tef, 1); i++ {
		exceeded := s.tc.Rand() > s.resistance
		if i == 0 {
			out.TCExceeded = exceeded
		}
		if exceeded && i < tef {
			out.LossEvents++
		}
	}
	if tef > 0 {
		out.Vuln = float64(out.LossEvents) / float64(tef)
	}
	if out.LossEvents == 0 {
		return out, nil
	}

	switch s.loss {
	case LossScaled:
		out.ALE = float64(out.LossEvents) * math.Max(0, s.lm.Rand())
	default:
		for i := 0; i < out.LossEvents; i++ {
			out.ALE += math.Max(0, s.lm.Rand())
		}
	}
	if !isFinite(out.ALE) {
		return out, fmt.Errorf("iteration %d: non-finite loss %v", iteration, out.ALE)
	}
	out.SLE = out.ALE / float64(out.LossEvents)
	return out, nil
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
