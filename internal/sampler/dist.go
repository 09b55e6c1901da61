package sampler

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"fairsim/internal/model"
)

// drawer is the slice of the gonum distuv API the sampler needs.
type drawer interface {
	Rand() float64
}

type constant float64

func (c constant) Rand() float64 { return float64(c) }

// pert is a Beta-PERT distribution: a Beta(α, β) draw rescaled onto
// [min, max] with α = 1 + shape·(mode-min)/(max-min) and
// β = 1 + shape·(max-mode)/(max-min).
type pert struct {
	beta distuv.Beta
	min  float64
	span float64
}

func (p pert) Rand() float64 { return p.min + p.span*p.beta.Rand() }

// newDrawer builds a random variate generator for d drawing from src.
// Degenerate ranges (min == max) collapse to a constant.
func newDrawer(d model.Dist, src rand.Source) (drawer, error) {
	switch d.Func {
	case model.FuncConstant:
		return constant(d.Value), nil
	case model.FuncPERT:
		if d.Min == d.Max {
			return constant(d.Min), nil
		}
		span := d.Max - d.Min
		shape := d.PERTShape()
		alpha := 1 + shape*(d.Mode-d.Min)/span
		beta := 1 + shape*(d.Max-d.Mode)/span
		// distuv.Beta panics on draws from non-positive or non-finite parameters.
		if !isFinite(alpha) || !isFinite(beta) || alpha <= 0 || beta <= 0 {
			return nil, fmt.Errorf("pert over [%g, %g] mode %g shape %g gives beta(%g, %g)", d.Min, d.Max, d.Mode, shape, alpha, beta)
		}
		return pert{
			beta: distuv.Beta{
				Alpha: alpha,
				Beta:  beta,
				Src:   src,
			},
			min:  d.Min,
			span: span,
		}, nil
	case model.FuncTriangular:
		if d.Min == d.Max {
			return constant(d.Min), nil
		}
		return distuv.NewTriangle(d.Min, d.Max, d.Mode, src), nil
	case model.FuncUniform:
		if d.Min == d.Max {
			return constant(d.Min), nil
		}
		return distuv.Uniform{Min: d.Min, Max: d.Max, Src: src}, nil
	case model.FuncLogNormal:
		return distuv.LogNormal{Mu: d.MeanLog, Sigma: d.SdLog, Src: src}, nil
	case model.FuncPoisson:
		if d.Mode == 0 {
			return constant(0), nil
		}
		return distuv.Poisson{Lambda: d.Mode, Src: src}, nil
	}
	return nil, fmt.Errorf("unsupported distribution %q", d.Func)
}

// Source returns the random stream for one scenario. Streams are keyed by
// the run seed and the scenario's identity, never by scheduling order, so a
// run is reproducible for any worker count.
func Source(seed uint64, domainID, scenarioID string) rand.Source {
	h := fnv.New64a()
	h.Write([]byte(domainID))
	h.Write([]byte{0})
	h.Write([]byte(scenarioID))
	return rand.NewPCG(seed, h.Sum64())
}
