package model

import (
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// Distribution families understood by the sampler.
const (
	FuncPERT       = "pert"
	FuncTriangular = "triangular"
	FuncLogNormal  = "lognormal"
	FuncUniform    = "uniform"
	FuncConstant   = "constant"
	FuncPoisson    = "poisson"
)

// DefaultPERTShape is the Beta-PERT shape used when Dist.Shape is zero.
const DefaultPERTShape = 4.0

// Kind names the FAIR factor a distribution feeds. It narrows which
// families and ranges are acceptable.
type Kind string

const (
	KindTEF Kind = "tef" // threat event frequency, events per year
	KindTC  Kind = "tc"  // threat capability, [0,1]
	KindLM  Kind = "lm"  // loss magnitude per event
)

// Dist is a distribution spec. Which fields are read depends on Func:
//
//	pert        min, mode, max, shape
//	triangular  min, mode, max
//	uniform     min, max
//	lognormal   meanlog, sdlog
//	constant    value
//	poisson     mode (the mean; tef only)
type Dist struct {
	Func    string  `json:"func" yaml:"func"`
	Min     float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Mode    float64 `json:"mode,omitempty" yaml:"mode,omitempty"`
	Max     float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Shape   float64 `json:"shape,omitempty" yaml:"shape,omitempty"`
	MeanLog float64 `json:"meanlog,omitempty" yaml:"meanlog,omitempty"`
	SdLog   float64 `json:"sdlog,omitempty" yaml:"sdlog,omitempty"`
	Value   float64 `json:"value,omitempty" yaml:"value,omitempty"`
}

// PERTShape returns the configured shape or DefaultPERTShape.
func (d Dist) PERTShape() float64 {
	if d.Shape == 0 {
		return DefaultPERTShape
	}
	return d.Shape
}

// finite reports whether every numeric field is a real number.
func (d Dist) finite() bool {
	for _, f := range []float64{d.Min, d.Mode, d.Max, d.Shape, d.MeanLog, d.SdLog, d.Value} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func (d Dist) validate(kind Kind) error {
	if !d.finite() {
		return fmt.Errorf("%s parameters must be finite numbers", d.Func)
	}
	switch d.Func {
	case FuncPERT, FuncTriangular:
		if d.Min > d.Mode || d.Mode > d.Max {
			return fmt.Errorf("%s requires min <= mode <= max (got %g, %g, %g)", d.Func, d.Min, d.Mode, d.Max)
		}
		if d.Func == FuncPERT && d.Shape < 0 {
			return fmt.Errorf("pert shape %g is negative", d.Shape)
		}
		return d.checkRange(kind, d.Min, d.Max)
	case FuncUniform:
		if d.Min > d.Max {
			return fmt.Errorf("uniform requires min <= max (got %g, %g)", d.Min, d.Max)
		}
		return d.checkRange(kind, d.Min, d.Max)
	case FuncLogNormal:
		if kind == KindTC {
			return fmt.Errorf("lognormal is unbounded and cannot describe threat capability")
		}
		if d.SdLog < 0 {
			return fmt.Errorf("lognormal sdlog %g is negative", d.SdLog)
		}
		return nil
	case FuncConstant:
		return d.checkRange(kind, d.Value, d.Value)
	case FuncPoisson:
		if kind != KindTEF {
			return fmt.Errorf("poisson is only valid for tef")
		}
		if d.Mode < 0 {
			return fmt.Errorf("poisson mean %g is negative", d.Mode)
		}
		return nil
	case "":
		return fmt.Errorf("missing func")
	default:
		return fmt.Errorf("unknown func %q", d.Func)
	}
}

func (d Dist) checkRange(kind Kind, lo, hi float64) error {
	if lo < 0 {
		return fmt.Errorf("negative lower bound %g", lo)
	}
	if kind == KindTC && hi > 1 {
		return fmt.Errorf("upper bound %g exceeds 1", hi)
	}
	return nil
}

// UnmarshalYAML accepts either a bare capability id or a mapping:
//
//	controls: [C1, {capability_id: C2, weight: 2}]
func (c *ControlRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.CapabilityID = node.Value
		c.Weight = 0
		return nil
	}
	type plain ControlRef
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = ControlRef(p)
	return nil
}
